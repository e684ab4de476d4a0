package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// Session 绑定到单个已打开通道的交互会话
// 同一时刻只允许一个交互操作在通道上进行，交错读写会破坏命令与输出的对应关系
type Session struct {
	ch     Channel
	prompt string
	opts   Options

	// guard 交互区互斥，获取等待上限为 SessionTimeout
	guard *semaphore.Weighted

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// CommandOption 单条命令的可选参数
type CommandOption func(*TimingOptions)

// WithStripCommand 去除输出首行的命令回显
func WithStripCommand() CommandOption {
	return func(o *TimingOptions) { o.StripCommand = true }
}

// WithStripPrompt 去除输出末尾的提示符行
func WithStripPrompt(prompt string) CommandOption {
	return func(o *TimingOptions) { o.StripPrompt = prompt }
}

// NewSession 创建会话，配置在此处一次性校验
func NewSession(ch Channel, prompt string, opts Options) (*Session, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Session{
		ch:     ch,
		prompt: prompt,
		opts:   opts,
		guard:  semaphore.NewWeighted(1),
	}, nil
}

// Prompt 返回探测到的提示符
func (s *Session) Prompt() string { return s.prompt }

// Options 返回会话配置副本
func (s *Session) Options() Options { return s.opts }

// Closed 会话是否已断开
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acquireOpen 获取交互区并确认会话未在等待期间被断开
func (s *Session) acquireOpen(ctx context.Context) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	if s.Closed() {
		s.release()
		return ErrSessionClosed
	}
	return nil
}

// acquire 获取交互区，超过 SessionTimeout 返回 ErrSessionBusy
func (s *Session) acquire(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.SessionTimeout)
	defer cancel()
	if err := s.guard.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: waited %s", ErrSessionBusy, s.opts.SessionTimeout)
	}
	return nil
}

func (s *Session) release() { s.guard.Release(1) }

// ClearBuffer 读取并丢弃通道中残留的数据
func (s *Session) ClearBuffer(ctx context.Context) error {
	if err := s.acquireOpen(ctx); err != nil {
		return err
	}
	defer s.release()
	s.clearBuffer()
	return nil
}

func (s *Session) clearBuffer() {
	if discarded := Drain(s.ch); discarded != "" {
		logger.Debugf("Console: cleared %d bytes from buffer", len(discarded))
	}
}

// DisablePaging 关闭设备分页；失败仅记录日志，不影响会话继续使用
func (s *Session) DisablePaging(ctx context.Context) {
	if err := s.acquireOpen(ctx); err != nil {
		logger.Warnf("Console: disable paging skipped: %v", err)
		return
	}
	defer s.release()

	if err := s.ch.Send(s.opts.Return); err != nil {
		logger.Warnf("Console: disable paging failed: %v", err)
		return
	}
	time.Sleep(s.opts.PagingSettle)
	s.clearBuffer()

	out, err := SendCommandTiming(ctx, s.ch, s.opts.PagingCommand, s.timing(s.opts.PagingReadTimeout))
	if err != nil {
		logger.Warnf("Console: disable paging failed: %v", err)
		return
	}
	logger.DebugCommandOutput(s.opts.PagingCommand, out, 3)
}

// RunCommand 发送命令并按时序启发式收集输出
func (s *Session) RunCommand(ctx context.Context, command string, readTimeout time.Duration, opts ...CommandOption) (string, error) {
	if err := s.acquireOpen(ctx); err != nil {
		return "", err
	}
	defer s.release()

	timing := s.timing(s.opts.readTimeout(readTimeout))
	for _, opt := range opts {
		opt(&timing)
	}

	start := time.Now()
	out, err := SendCommandTiming(ctx, s.ch, command, timing)
	logger.WithField("command", command).Debugf("Console: command finished in %s, %d bytes", time.Since(start), len(out))
	logger.DebugCommandOutput(command, out, 5)
	return out, err
}

// Disconnect 发送 <CTRL>-Z 与 exit 尽量优雅地退出控制台，随后必定关闭通道
// 发送阶段的错误仅记录日志；返回值为关闭通道的错误，重复调用返回 nil
func (s *Session) Disconnect() error {
	var closeErr error
	s.closeOnce.Do(func() {
		// 会话锁获取失败时仍继续，保证通道最终被关闭
		if err := s.acquire(context.Background()); err != nil {
			logger.Warnf("Console: disconnect without session lock: %v", err)
		} else {
			defer s.release()
		}

		defer func() {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			closeErr = s.ch.Close()
		}()

		logger.Info("Console: sending <CTRL>-Z and exit to close console session")
		if err := s.ch.Send(escapeSequence); err != nil {
			logger.Warnf("Console: exception during disconnect: %v", err)
			return
		}
		time.Sleep(s.opts.DisconnectPause)
		if err := s.ch.Send(exitCommand); err != nil {
			logger.Warnf("Console: exception during disconnect: %v", err)
			return
		}
		time.Sleep(s.opts.DisconnectPause)
	})
	return closeErr
}

func (s *Session) timing(readTimeout time.Duration) TimingOptions {
	return TimingOptions{
		ReadTimeout: readTimeout,
		LoopDelay:   s.opts.scaled(s.opts.LoopDelay),
		LastRead:    s.opts.scaled(s.opts.LastRead),
		Return:      s.opts.Return,
	}
}
