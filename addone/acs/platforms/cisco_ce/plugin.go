package cisco_ce

import "github.com/sshcollectorpro/acsconsole/addone/acs"

// Plugin 经 ACS 串口接入的 Cisco CE 设备
type Plugin struct {
	acs.DelimiterPlugin
}

func init() {
	acs.Register("cisco_ce", &Plugin{acs.DelimiterPlugin{
		PlatformName: "cisco_ce",
		Params: acs.Defaults{
			PagingCommand: "terminal length 0",
			Delimiters:    "#>",
		},
	}})
}
