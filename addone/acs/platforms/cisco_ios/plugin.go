package cisco_ios

import "github.com/sshcollectorpro/acsconsole/addone/acs"

// Plugin Cisco IOS 平台（用户模式 > 与特权模式 #）
type Plugin struct {
	acs.DelimiterPlugin
}

func init() {
	acs.Register("cisco_ios", &Plugin{acs.DelimiterPlugin{
		PlatformName: "cisco_ios",
		Params: acs.Defaults{
			PagingCommand: "terminal length 0",
			Delimiters:    "#>",
		},
	}})
}
