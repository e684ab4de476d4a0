package huawei_vrp

import "github.com/sshcollectorpro/acsconsole/addone/acs"

// Plugin 华为 VRP 平台，提示符形如 <HUAWEI> 或 [HUAWEI]
type Plugin struct {
	acs.DelimiterPlugin
}

func init() {
	acs.Register("huawei_vrp", &Plugin{acs.DelimiterPlugin{
		PlatformName: "huawei_vrp",
		Params: acs.Defaults{
			// 仅对当前会话生效
			PagingCommand: "screen-length 0 temporary",
			Delimiters:    ">]",
			TrimLeading:   "<[",
		},
	}})
}
