package ssh

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/acsconsole/internal/util"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// ErrChannelClosed 通道关闭后继续发送
var ErrChannelClosed = errors.New("ssh: shell channel closed")

// ShellChannel 将阻塞的 SSH shell 读写适配为非阻塞的 console.Channel
// 单个后台协程持续读取输出并追加到缓冲，调用方随时取走已到达的数据
type ShellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	mu      sync.Mutex
	buf     strings.Builder
	carry   []byte
	readErr error
	closed  bool
	// auto 为 true 时非 UTF-8 的输出块按常见旧编码猜测解码
	auto bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newShellChannel(session *ssh.Session, charset string) (*ShellChannel, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	reader, err := util.NewTerminalReader(stdout, charset)
	if err != nil {
		return nil, err
	}
	if err := session.Shell(); err != nil {
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	c := &ShellChannel{
		session: session,
		stdin:   stdin,
		auto:    strings.EqualFold(strings.TrimSpace(charset), util.CharsetAuto),
		done:    make(chan struct{}),
	}
	go c.relay(reader)
	return c, nil
}

// relay 读取协程：读到 EOF 或出错后退出
func (c *ShellChannel) relay(r io.Reader) {
	defer close(c.done)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.append(chunk[:n])
		}
		if err != nil {
			c.mu.Lock()
			if !errors.Is(err, io.EOF) {
				c.readErr = err
			}
			if len(c.carry) > 0 {
				logger.Debugf("SSH channel: dropped %d trailing bytes of incomplete UTF-8", len(c.carry))
				c.carry = nil
			}
			c.mu.Unlock()
			return
		}
	}
}

// append 保留末尾残缺的多字节序列等待下一块，其余无效字节丢弃
func (c *ShellChannel) append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.carry) > 0 {
		data = append(c.carry, data...)
		c.carry = nil
	}
	cut := util.CompletePrefix(data)
	if cut < len(data) {
		c.carry = append([]byte(nil), data[cut:]...)
	}
	if c.auto {
		c.buf.WriteString(util.DecodeTerminal(data[:cut], util.CharsetAuto))
		return
	}
	c.buf.WriteString(strings.ToValidUTF8(string(data[:cut]), ""))
}

// Send 写入原始文本，不追加换行
func (c *ShellChannel) Send(text string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	if _, err := io.WriteString(c.stdin, text); err != nil {
		return fmt.Errorf("failed to write to shell: %w", err)
	}
	return nil
}

// ReceiveIfReady 取走当前已缓冲的全部输出，无数据时立即返回空串
func (c *ShellChannel) ReceiveIfReady() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return ""
	}
	out := c.buf.String()
	c.buf.Reset()
	return out
}

// IsReadable 是否有已到达未读取的输出
func (c *ShellChannel) IsReadable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len() > 0
}

// Err 返回读取协程遇到的非 EOF 错误
func (c *ShellChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Done 读取协程退出后关闭
func (c *ShellChannel) Done() <-chan struct{} {
	return c.done
}

// Close 关闭 shell 会话，可重复调用
func (c *ShellChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		_ = c.stdin.Close()
		if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			c.closeErr = fmt.Errorf("failed to close session: %w", err)
		}
	})
	return c.closeErr
}
