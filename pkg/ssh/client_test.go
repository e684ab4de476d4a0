package ssh_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	acsssh "github.com/sshcollectorpro/acsconsole/pkg/ssh"
	"github.com/sshcollectorpro/acsconsole/simulate"
)

func startACS(t *testing.T, mutate func(*simulate.Config)) *simulate.Server {
	t.Helper()
	cfg := simulate.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := simulate.Start(cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv
}

func liveOptions() console.Options {
	opts := console.DefaultOptions()
	opts.ConnectTimeout = 5 * time.Second
	opts.BannerSettle = 200 * time.Millisecond
	opts.RecoveryWait = 200 * time.Millisecond
	opts.PagingSettle = 100 * time.Millisecond
	opts.DisconnectPause = 50 * time.Millisecond
	opts.LoopDelay = 10 * time.Millisecond
	opts.LastRead = 300 * time.Millisecond
	opts.PagingReadTimeout = 2 * time.Second
	return opts
}

func liveDetector() *console.DelimiterDetector {
	d := console.NewDelimiterDetector("#>")
	d.Settle = 200 * time.Millisecond
	return d
}

func targetFor(srv *simulate.Server) console.Target {
	return console.Target{
		Host:            "127.0.0.1",
		Port:            srv.Port(),
		Username:        "admin",
		Password:        "avocent",
		ConsolePort:     7001,
		PortSuffixLogin: true,
	}
}

func TestConsoleRoundTripOverSSH(t *testing.T) {
	for _, stuck := range []bool{false, true} {
		srv := startACS(t, func(c *simulate.Config) { c.StuckSession = stuck })
		dialer := acsssh.NewDialer(&acsssh.Config{Timeout: 5 * time.Second})

		sess, transport, err := console.Connect(context.Background(), dialer, targetFor(srv), liveOptions(), liveDetector())
		require.NoError(t, err)
		assert.Equal(t, "ce-01", sess.Prompt(), "stuck=%v", stuck)

		sess.DisablePaging(context.Background())

		out, err := sess.RunCommand(context.Background(), "show version", 5*time.Second)
		require.NoError(t, err)
		assert.Contains(t, out, "ce-01 uptime is 3 weeks")
		assert.Contains(t, out, "show version")

		require.NoError(t, sess.Disconnect())
		require.NoError(t, transport.Close())
	}
}

func TestDialWrongPassword(t *testing.T) {
	srv := startACS(t, nil)
	target := targetFor(srv)
	target.Password = "wrong"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := acsssh.NewDialer(&acsssh.Config{Timeout: 5 * time.Second}).Dial(ctx, target)
	assert.Error(t, err)
}

func TestDialRejectsUnknownHostKey(t *testing.T) {
	srv := startACS(t, nil)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := acsssh.NewDialer(&acsssh.Config{Timeout: 5 * time.Second, KnownHostsFile: knownHosts}).Dial(ctx, targetFor(srv))
	assert.Error(t, err)
}

func TestDialMissingKnownHostsFile(t *testing.T) {
	_, err := acsssh.NewDialer(&acsssh.Config{KnownHostsFile: filepath.Join(t.TempDir(), "absent")}).
		Dial(context.Background(), console.Target{Host: "127.0.0.1", Port: 1})
	assert.ErrorContains(t, err, "known_hosts")
}

func TestPoolLimitsAndTracksConnections(t *testing.T) {
	srv := startACS(t, nil)
	pool := acsssh.NewPool(&acsssh.PoolConfig{MaxActive: 1, SSHConfig: &acsssh.Config{Timeout: 5 * time.Second}})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport, err := pool.Dial(ctx, targetFor(srv))
	require.NoError(t, err)
	stats := pool.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, []string{"admin:7001@127.0.0.1:" + strconv.Itoa(srv.Port())}, stats.Targets)

	_, err = pool.Dial(ctx, targetFor(srv))
	assert.ErrorContains(t, err, "pool is full")

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.Equal(t, 0, pool.Stats().Active)
}

func TestPoolCapHoldsUnderConcurrentDials(t *testing.T) {
	srv := startACS(t, nil)
	pool := acsssh.NewPool(&acsssh.PoolConfig{MaxActive: 1, SSHConfig: &acsssh.Config{Timeout: 5 * time.Second}})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const dialers = 6
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		transports []console.Transport
		rejected   int
	)
	for i := 0; i < dialers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transport, err := pool.Dial(ctx, targetFor(srv))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorContains(t, err, "pool is full")
				rejected++
				return
			}
			transports = append(transports, transport)
		}()
	}
	wg.Wait()

	require.Len(t, transports, 1)
	assert.Equal(t, dialers-1, rejected)
	assert.Equal(t, 1, pool.Stats().Active)

	// 关闭后释放名额
	require.NoError(t, transports[0].Close())
	transport, err := pool.Dial(ctx, targetFor(srv))
	require.NoError(t, err)
	require.NoError(t, transport.Close())
}

func TestPoolReleasesSlotOnDialFailure(t *testing.T) {
	srv := startACS(t, nil)
	pool := acsssh.NewPool(&acsssh.PoolConfig{MaxActive: 1, SSHConfig: &acsssh.Config{Timeout: 5 * time.Second}})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bad := targetFor(srv)
	bad.Password = "wrong"
	_, err := pool.Dial(ctx, bad)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "pool is full")

	transport, err := pool.Dial(ctx, targetFor(srv))
	require.NoError(t, err)
	require.NoError(t, transport.Close())
}

func TestShellChannelReceiveNeverBlocks(t *testing.T) {
	srv := startACS(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport, err := acsssh.NewDialer(&acsssh.Config{Timeout: 5 * time.Second}).Dial(ctx, targetFor(srv))
	require.NoError(t, err)
	defer transport.Close()
	ch, err := transport.OpenShell()
	require.NoError(t, err)
	defer ch.Close()

	var seen string
	require.Eventually(t, func() bool {
		seen += console.Drain(ch)
		return strings.HasSuffix(seen, "ce-01#")
	}, 3*time.Second, 10*time.Millisecond)

	// 远端已空闲，读取必须立即返回
	for i := 0; i < 20; i++ {
		start := time.Now()
		assert.False(t, ch.IsReadable())
		assert.Equal(t, "", ch.ReceiveIfReady())
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	}
}
