package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
)

const sampleYAML = `
acs:
  host: 192.168.2.78
  username: admin
  password: ${ACS_TEST_PASSWORD}
  console_port: 7001
  platform: cisco_ce
console:
  read_timeout_override: 30s
  delay_factor: 2
  banner_settle: 500ms
ssh:
  charset: gbk
storage:
  backend: none
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	t.Setenv("ACS_TEST_PASSWORD", "avocent")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "192.168.2.78", cfg.ACS.Host)
	assert.Equal(t, 22, cfg.ACS.Port)
	assert.Equal(t, "avocent", cfg.ACS.Password)
	assert.True(t, cfg.ACS.PortSuffixLogin)
	assert.Equal(t, "cisco_ce", cfg.ACS.Platform)
	assert.Equal(t, "admin:7001", cfg.Target().Login())
	assert.Equal(t, "none", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Log.Level)

	opts := cfg.ConsoleOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 30*time.Second, opts.ReadTimeoutOverride)
	assert.Equal(t, 2.0, opts.DelayFactor)
	assert.Equal(t, 500*time.Millisecond, opts.BannerSettle)
	assert.Equal(t, console.DefaultOptions().SessionTimeout, opts.SessionTimeout)

	pool := cfg.SSHPool()
	assert.Equal(t, "gbk", pool.SSHConfig.Charset)
	assert.Equal(t, 60*time.Second, pool.SSHConfig.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ACS_CONSOLE_ACS_PASSWORD", "from-env")
	t.Setenv("ACS_CONSOLE_CONSOLE_LAST_READ", "5s")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ACS.Password)
	assert.Equal(t, 5*time.Second, cfg.ConsoleOptions().LastRead)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	require.NoError(t, Watch(ctx, path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"\nlog:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}
}
