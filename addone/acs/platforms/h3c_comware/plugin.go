package h3c_comware

import "github.com/sshcollectorpro/acsconsole/addone/acs"

// Plugin H3C Comware 平台
type Plugin struct {
	acs.DelimiterPlugin
}

func init() {
	acs.Register("h3c_comware", &Plugin{acs.DelimiterPlugin{
		PlatformName: "h3c_comware",
		Params: acs.Defaults{
			PagingCommand: "screen-length disable",
			Delimiters:    ">]",
			TrimLeading:   "<[",
		},
	}})
}
