package console

import (
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// DefaultPrompt 提示符探测失败时的兜底值
	DefaultPrompt = "Router"
	// StuckSessionMarker 部分终端服务器在串口状态异常时输出的横幅标记
	StuckSessionMarker = "<CTRL>Z"
	// DefaultPagingCommand 默认关闭分页命令
	DefaultPagingCommand = "terminal length 0"
	// DefaultReadTimeout 单条命令默认读取超时
	DefaultReadTimeout = 120 * time.Second

	nudgeSequence  = "\n\r"
	escapeSequence = "\x1a"
	exitCommand    = "exit\n"
)

var (
	// ErrReadTimeout 在整体读取超时内未等到输出静默
	ErrReadTimeout = errors.New("console: read timeout")
	// ErrSessionClosed 会话已断开
	ErrSessionClosed = errors.New("console: session closed")
	// ErrSessionBusy 在 SessionTimeout 内未获取到会话锁
	ErrSessionBusy = errors.New("console: session busy")
	// ErrInvalidOptions 会话配置不合法
	ErrInvalidOptions = errors.New("console: invalid options")
	// ErrStreamEnded 通道的输出流已结束（远端关闭或传输出错）
	ErrStreamEnded = errors.New("console: output stream ended")
)

// Options 会话配置（构造后不可变）
type Options struct {
	// ConnectTimeout 拨号与 SSH 握手超时
	ConnectTimeout time.Duration
	// SessionTimeout 获取会话锁的最长等待时间
	SessionTimeout time.Duration
	// ReadTimeoutOverride 大于 0 时覆盖所有命令的读取超时
	ReadTimeoutOverride time.Duration
	// DelayFactor 轮询间隔与静默窗口的倍率
	DelayFactor float64
	// SessionLog 原始会话记录输出，可为空
	SessionLog io.Writer

	BannerSettle      time.Duration
	RecoveryWait      time.Duration
	PagingSettle      time.Duration
	PagingReadTimeout time.Duration
	DisconnectPause   time.Duration

	// LoopDelay 读取轮询间隔
	LoopDelay time.Duration
	// LastRead 输出静默多久视为命令结束
	LastRead time.Duration

	// Return 命令行结束符
	Return string
	// PagingCommand 关闭分页命令，由平台插件覆盖
	PagingCommand string
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    60 * time.Second,
		SessionTimeout:    60 * time.Second,
		DelayFactor:       1,
		BannerSettle:      2 * time.Second,
		RecoveryWait:      1 * time.Second,
		PagingSettle:      1 * time.Second,
		PagingReadTimeout: 5 * time.Second,
		DisconnectPause:   1 * time.Second,
		LoopDelay:         100 * time.Millisecond,
		LastRead:          2 * time.Second,
		Return:            "\n",
		PagingCommand:     DefaultPagingCommand,
	}
}

// Validate 校验配置
func (o Options) Validate() error {
	if o.DelayFactor <= 0 {
		return fmt.Errorf("%w: delay factor must be positive, got %v", ErrInvalidOptions, o.DelayFactor)
	}
	positive := map[string]time.Duration{
		"connect timeout": o.ConnectTimeout,
		"session timeout": o.SessionTimeout,
		"loop delay":      o.LoopDelay,
		"last read":       o.LastRead,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidOptions, name, d)
		}
	}
	nonNegative := map[string]time.Duration{
		"read timeout override": o.ReadTimeoutOverride,
		"banner settle":         o.BannerSettle,
		"recovery wait":         o.RecoveryWait,
		"paging settle":         o.PagingSettle,
		"paging read timeout":   o.PagingReadTimeout,
		"disconnect pause":      o.DisconnectPause,
	}
	for name, d := range nonNegative {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %s", ErrInvalidOptions, name, d)
		}
	}
	if o.Return == "" {
		return fmt.Errorf("%w: return sequence is empty", ErrInvalidOptions)
	}
	return nil
}

// scaled 按 DelayFactor 放大时长
func (o Options) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * o.DelayFactor)
}

// readTimeout 计算命令的实际读取超时
func (o Options) readTimeout(requested time.Duration) time.Duration {
	if o.ReadTimeoutOverride > 0 {
		return o.ReadTimeoutOverride
	}
	if requested > 0 {
		return requested
	}
	return DefaultReadTimeout
}
