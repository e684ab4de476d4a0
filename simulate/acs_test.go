package simulate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulate.yaml")
	body := `
addr: "127.0.0.1:0"
stuck_session: true
hostname: "sw-core"
commands:
  "display clock": "12:00:00 2024-01-01\n"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.StuckSession)
	assert.Equal(t, "sw-core", cfg.Hostname)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, "#", cfg.PromptSuffix)
	assert.Equal(t, "12:00:00 2024-01-01\n", cfg.Commands["display clock"])

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOutputAndCheckUser(t *testing.T) {
	s := &Server{cfg: DefaultConfig()}

	assert.True(t, s.checkUser("admin"))
	assert.True(t, s.checkUser("admin:7001"))
	assert.False(t, s.checkUser("guest:7001"))

	assert.Contains(t, s.output("show clock"), "UTC")
	assert.Contains(t, s.output("show bogus"), "% Invalid input")
	assert.Equal(t, "a\r\nb\r\n", ensureCRLF("a\nb\n"))
}

func TestHostKeyPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_key")
	first, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	second, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}
