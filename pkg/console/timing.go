package console

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TimingOptions 基于时序的命令执行参数
type TimingOptions struct {
	// ReadTimeout 整体读取超时
	ReadTimeout time.Duration
	// LoopDelay 轮询间隔（已乘以倍率）
	LoopDelay time.Duration
	// LastRead 静默窗口（已乘以倍率）
	LastRead time.Duration
	// Return 命令结束符
	Return string
	// StripCommand 去除首行命令回显
	StripCommand bool
	// StripPrompt 去除以该提示符开头的末行，空则不处理
	StripPrompt string
}

// SendCommandTiming 发送命令后持续轮询读取，直到输出静默 LastRead 或整体超时
// 不校验命令回显：串口经多级中转，回显行为不一致
// 超时、ctx 取消或输出流结束时返回已读取的输出和对应错误
func SendCommandTiming(ctx context.Context, ch Channel, command string, opts TimingOptions) (string, error) {
	if opts.Return == "" {
		opts.Return = "\n"
	}
	if opts.LoopDelay <= 0 {
		opts.LoopDelay = 100 * time.Millisecond
	}
	if opts.LastRead <= 0 {
		opts.LastRead = 2 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	if err := ch.Send(command + opts.Return); err != nil {
		return "", fmt.Errorf("failed to send command %q: %w", command, err)
	}

	var out strings.Builder
	start := time.Now()
	var lastData time.Time
	ticker := time.NewTicker(opts.LoopDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finishOutput(out.String(), command, opts), ctx.Err()
		case <-ticker.C:
		}

		if ended, err := streamEnded(ch); ended {
			out.WriteString(Drain(ch))
			return finishOutput(out.String(), command, opts), fmt.Errorf("reading output of %q: %w", command, err)
		}

		if data := Drain(ch); data != "" {
			out.WriteString(data)
			lastData = time.Now()
		} else if !lastData.IsZero() && time.Since(lastData) >= opts.LastRead {
			return finishOutput(out.String(), command, opts), nil
		}

		if time.Since(start) >= opts.ReadTimeout {
			return finishOutput(out.String(), command, opts), fmt.Errorf("%w: %q after %s", ErrReadTimeout, command, opts.ReadTimeout)
		}
	}
}

// finishOutput 统一换行符并按需去除回显与提示符
func finishOutput(raw, command string, opts TimingOptions) string {
	out := normalizeLinefeeds(raw)
	if opts.StripCommand {
		out = stripCommandEcho(out, command)
	}
	if opts.StripPrompt != "" {
		out = stripTrailingPrompt(out, opts.StripPrompt)
	}
	return out
}

func normalizeLinefeeds(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func stripCommandEcho(out, command string) string {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return out
	}
	trimmed := strings.TrimLeft(out, "\n")
	first, rest, found := strings.Cut(trimmed, "\n")
	if strings.HasSuffix(strings.TrimSpace(first), cmd) {
		if !found {
			return ""
		}
		return rest
	}
	return out
}

func stripTrailingPrompt(out, prompt string) string {
	trimmed := strings.TrimRight(out, "\n ")
	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed[idx+1:]
	if strings.HasPrefix(strings.TrimSpace(last), prompt) {
		if idx < 0 {
			return ""
		}
		return trimmed[:idx+1]
	}
	return out
}
