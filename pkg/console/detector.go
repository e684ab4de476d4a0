package console

import (
	"strings"
	"time"

	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// PromptDetector 按设备系列探测当前命令提示符
// 实现不得返回错误：无法识别时返回兜底提示符
type PromptDetector interface {
	DetectPrompt(ch Channel) string
}

// DelimiterDetector 基于提示符结尾分隔符（如 '#'、'>'）的探测器
type DelimiterDetector struct {
	// Delimiters 提示符结尾字符集合，例如 "#>"
	Delimiters string
	// TrimLeading 需要从提示符开头剥离的字符，例如华为的 "<["
	TrimLeading string
	// Settle 发送回车后等待设备输出的时间
	Settle time.Duration
	// Fallback 未识别时的兜底提示符，空则使用 DefaultPrompt
	Fallback string
}

// NewDelimiterDetector 创建默认 1 秒稳定期的探测器
func NewDelimiterDetector(delimiters string) *DelimiterDetector {
	return &DelimiterDetector{
		Delimiters: delimiters,
		Settle:     time.Second,
		Fallback:   DefaultPrompt,
	}
}

// DetectPrompt 发送回车诱发提示符，读取输出并解析
func (d *DelimiterDetector) DetectPrompt(ch Channel) string {
	if err := ch.Send(nudgeSequence); err != nil {
		logger.Warnf("Prompt detect: send nudge failed: %v", err)
	}
	time.Sleep(d.Settle)
	output := Drain(ch)
	logger.DebugCommandOutput("<prompt-detect>", output, 5)
	return d.Parse(output)
}

// Parse 从输出中解析提示符：自后向前扫描非空行，取第一个以分隔符结尾的行
func (d *DelimiterDetector) Parse(output string) string {
	fallback := d.Fallback
	if fallback == "" {
		fallback = DefaultPrompt
	}
	delims := d.Delimiters
	if delims == "" {
		delims = "#>"
	}

	lines := splitNonBlank(output)
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if !strings.ContainsRune(delims, rune(line[len(line)-1])) {
			continue
		}
		prompt := strings.TrimRight(line, delims)
		if d.TrimLeading != "" {
			prompt = strings.TrimLeft(prompt, d.TrimLeading)
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			// 仅由分隔符构成的行不可作为提示符
			continue
		}
		logger.Debugf("Prompt detect: matched line %q", line)
		return prompt
	}

	logger.Infof("Prompt detect: no prompt line found, falling back to %q", fallback)
	return fallback
}

// splitNonBlank 拆分为去除首尾空白后的非空行
func splitNonBlank(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}
