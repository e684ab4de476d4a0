// Package platforms 引入全部平台插件，触发各平台的 init() 完成注册
package platforms

import (
	_ "github.com/sshcollectorpro/acsconsole/addone/acs/platforms/cisco_ce"
	_ "github.com/sshcollectorpro/acsconsole/addone/acs/platforms/cisco_ios"
	_ "github.com/sshcollectorpro/acsconsole/addone/acs/platforms/h3c_comware"
	_ "github.com/sshcollectorpro/acsconsole/addone/acs/platforms/huawei_vrp"
)
