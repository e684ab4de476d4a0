package console_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/console/consoletest"
)

func TestDefaultOptions(t *testing.T) {
	opts := console.DefaultOptions()
	assert.NoError(t, opts.Validate())
	assert.Equal(t, 60*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 60*time.Second, opts.SessionTimeout)
	assert.Equal(t, time.Duration(0), opts.ReadTimeoutOverride)
	assert.Equal(t, 1.0, opts.DelayFactor)
	assert.Equal(t, 2*time.Second, opts.BannerSettle)
	assert.Equal(t, console.DefaultPagingCommand, opts.PagingCommand)
}

func TestOptionsValidate(t *testing.T) {
	cases := map[string]func(*console.Options){
		"zero delay factor":      func(o *console.Options) { o.DelayFactor = 0 },
		"negative delay factor":  func(o *console.Options) { o.DelayFactor = -1 },
		"zero connect timeout":   func(o *console.Options) { o.ConnectTimeout = 0 },
		"zero loop delay":        func(o *console.Options) { o.LoopDelay = 0 },
		"negative banner settle": func(o *console.Options) { o.BannerSettle = -time.Second },
		"negative override":      func(o *console.Options) { o.ReadTimeoutOverride = -time.Second },
		"empty return":           func(o *console.Options) { o.Return = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := console.DefaultOptions()
			mutate(&opts)
			assert.ErrorIs(t, opts.Validate(), console.ErrInvalidOptions)
		})
	}

	// 稳定期为 0 是合法的
	assert.NoError(t, consoletest.FastOptions().Validate())
}

func TestTargetLogin(t *testing.T) {
	tg := console.Target{Host: "10.0.0.1", Username: "admin", ConsolePort: 7001, PortSuffixLogin: true}
	assert.Equal(t, "admin:7001", tg.Login())
	assert.Equal(t, "10.0.0.1:22", tg.Address())
	assert.Equal(t, "admin:7001@10.0.0.1:22", tg.String())

	tg.Username = "admin:7002"
	assert.Equal(t, "admin:7002", tg.Login())

	tg.PortSuffixLogin = false
	tg.Username = "admin"
	assert.Equal(t, "admin", tg.Login())
}

func TestDrainStopsWhenNotReadable(t *testing.T) {
	ch := consoletest.NewFakeChannel("line1\r\nline2")
	assert.Equal(t, "line1\r\nline2", console.Drain(ch))
	assert.Equal(t, "", console.Drain(ch))
}
