// Package acs 定义挂在 ACS 终端服务器后的设备系列插件
package acs

import "github.com/sshcollectorpro/acsconsole/pkg/console"

// DefaultName 兜底平台名称
const DefaultName = "default"

// Defaults 平台默认参数
type Defaults struct {
	// PagingCommand 关闭分页命令
	PagingCommand string
	// Delimiters 提示符结尾字符，为空表示不探测提示符
	Delimiters string
	// TrimLeading 提示符开头需要剥离的字符
	TrimLeading string
}

// Plugin 平台插件接口
type Plugin interface {
	// Name 插件名称（如：default、cisco_ce、huawei_vrp）
	Name() string
	// Defaults 返回平台默认参数
	Defaults() Defaults
	// Detector 返回提示符探测器，nil 表示直接使用 console.DefaultPrompt
	Detector() console.PromptDetector
}

// Apply 将平台参数写入会话配置
func Apply(p Plugin, opts console.Options) console.Options {
	if cmd := p.Defaults().PagingCommand; cmd != "" {
		opts.PagingCommand = cmd
	}
	return opts
}

// DelimiterPlugin 基于分隔符探测提示符的通用实现，各平台嵌入后只需提供参数
type DelimiterPlugin struct {
	PlatformName string
	Params       Defaults
}

func (p *DelimiterPlugin) Name() string { return p.PlatformName }

func (p *DelimiterPlugin) Defaults() Defaults { return p.Params }

func (p *DelimiterPlugin) Detector() console.PromptDetector {
	d := console.NewDelimiterDetector(p.Params.Delimiters)
	d.TrimLeading = p.Params.TrimLeading
	return d
}

// DefaultPlugin 未知平台：不探测提示符
type DefaultPlugin struct{}

func (p *DefaultPlugin) Name() string { return DefaultName }

func (p *DefaultPlugin) Defaults() Defaults {
	return Defaults{PagingCommand: console.DefaultPagingCommand}
}

func (p *DefaultPlugin) Detector() console.PromptDetector { return nil }
