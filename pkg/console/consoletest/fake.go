// Package consoletest 提供脚本化的假通道与拨号器，用于测试控制台交互流程
package consoletest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
)

// ErrClosed 通道已关闭后继续发送
var ErrClosed = errors.New("consoletest: channel closed")

// FakeChannel 按发送内容回放预设输出，并按顺序记录所有调用
// 事件格式："send:<text>"、"recv:<text>"、"close"
type FakeChannel struct {
	mu       sync.Mutex
	pending  strings.Builder
	script   map[string]string
	sendErrs map[string]error
	events   []string
	closes   int
	closed   bool

	done      chan struct{}
	endOnce   sync.Once
	streamErr error
}

// NewFakeChannel 创建假通道，banner 为打开后立即可读的内容
func NewFakeChannel(banner string) *FakeChannel {
	f := &FakeChannel{
		script:   make(map[string]string),
		sendErrs: make(map[string]error),
		done:     make(chan struct{}),
	}
	f.pending.WriteString(banner)
	return f
}

// Respond 设置发送 text 后追加到接收缓冲的内容
func (f *FakeChannel) Respond(text, output string) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[text] = output
	return f
}

// FailSend 设置发送 text 时返回的错误
func (f *FakeChannel) FailSend(text string, err error) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs[text] = err
	return f
}

// EndStream 模拟底层读取结束，err 为 nil 表示远端正常关闭
// 已缓冲的数据仍可读取
func (f *FakeChannel) EndStream(err error) {
	f.endOnce.Do(func() {
		f.mu.Lock()
		f.streamErr = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done 实现 console.StreamStatus
func (f *FakeChannel) Done() <-chan struct{} {
	return f.done
}

// Err 实现 console.StreamStatus
func (f *FakeChannel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamErr
}

// Push 直接向接收缓冲追加数据
func (f *FakeChannel) Push(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending.WriteString(data)
}

func (f *FakeChannel) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err, ok := f.sendErrs[text]; ok {
		f.events = append(f.events, "send-error:"+text)
		return err
	}
	f.events = append(f.events, "send:"+text)
	if out, ok := f.script[text]; ok {
		f.pending.WriteString(out)
	}
	return nil
}

func (f *FakeChannel) ReceiveIfReady() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending.Len() == 0 {
		return ""
	}
	data := f.pending.String()
	f.pending.Reset()
	f.events = append(f.events, "recv:"+data)
	return data
}

func (f *FakeChannel) IsReadable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending.Len() > 0
}

func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closed = true
	f.events = append(f.events, "close")
	return nil
}

// Events 返回调用记录副本
func (f *FakeChannel) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// Sends 返回成功发送的内容
func (f *FakeChannel) Sends() []string {
	var out []string
	for _, ev := range f.Events() {
		if text, ok := strings.CutPrefix(ev, "send:"); ok {
			out = append(out, text)
		}
	}
	return out
}

// CloseCount 返回 Close 被调用的次数
func (f *FakeChannel) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Closed 是否已关闭
func (f *FakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeTransport 返回固定通道的传输句柄
type FakeTransport struct {
	Channel *FakeChannel
	OpenErr error

	mu     sync.Mutex
	closed bool
}

func (t *FakeTransport) OpenShell() (console.Channel, error) {
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	return t.Channel, nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed 传输是否已关闭
func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// FakeDialer 每次拨号调用 NewChannel 生成新的脚本通道
type FakeDialer struct {
	NewChannel func(target console.Target) *FakeChannel
	DialErr    error

	mu         sync.Mutex
	Transports []*FakeTransport
	Targets    []console.Target
}

func (d *FakeDialer) Dial(ctx context.Context, target console.Target) (console.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Targets = append(d.Targets, target)
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	t := &FakeTransport{Channel: d.NewChannel(target)}
	d.Transports = append(d.Transports, t)
	return t, nil
}

// FastOptions 返回去掉所有等待时间的配置，便于单元测试
func FastOptions() console.Options {
	opts := console.DefaultOptions()
	opts.BannerSettle = 0
	opts.RecoveryWait = 0
	opts.PagingSettle = 0
	opts.DisconnectPause = 0
	opts.LoopDelay = 2 * time.Millisecond
	opts.LastRead = 20 * time.Millisecond
	opts.PagingReadTimeout = time.Second
	return opts
}
