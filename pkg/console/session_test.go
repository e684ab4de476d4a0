package console_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/console/consoletest"
)

func newTestSession(t *testing.T, ch *consoletest.FakeChannel, mutate ...func(*console.Options)) *console.Session {
	t.Helper()
	opts := consoletest.FastOptions()
	for _, m := range mutate {
		m(&opts)
	}
	sess, err := console.NewSession(ch, "ce-01", opts)
	require.NoError(t, err)
	return sess
}

func TestNewSessionValidatesOptions(t *testing.T) {
	opts := consoletest.FastOptions()
	opts.SessionTimeout = 0
	_, err := console.NewSession(consoletest.NewFakeChannel(""), "r1", opts)
	assert.ErrorIs(t, err, console.ErrInvalidOptions)

	_, err = console.NewSession(nil, "r1", consoletest.FastOptions())
	assert.ErrorIs(t, err, console.ErrInvalidOptions)
}

func TestNewSessionEmptyPromptFallsBack(t *testing.T) {
	sess, err := console.NewSession(consoletest.NewFakeChannel(""), "", consoletest.FastOptions())
	require.NoError(t, err)
	assert.Equal(t, console.DefaultPrompt, sess.Prompt())
}

func TestDisablePagingSendsPagingCommand(t *testing.T) {
	ch := consoletest.NewFakeChannel("").
		Respond("\n", "\r\nce-01#").
		Respond("terminal length 0\n", "terminal length 0\r\nce-01#")
	sess := newTestSession(t, ch)

	sess.DisablePaging(context.Background())

	assert.Equal(t, []string{"\n", "terminal length 0\n"}, ch.Sends())
	assert.False(t, ch.Closed())
}

func TestDisablePagingUsesPlatformCommand(t *testing.T) {
	ch := consoletest.NewFakeChannel("").Respond("screen-length 0 temporary\n", "Info: done.\r\n<HUAWEI>")
	sess := newTestSession(t, ch, func(o *console.Options) { o.PagingCommand = "screen-length 0 temporary" })

	sess.DisablePaging(context.Background())

	assert.Contains(t, ch.Sends(), "screen-length 0 temporary\n")
}

func TestDisablePagingSwallowsSendFailure(t *testing.T) {
	ch := consoletest.NewFakeChannel("").
		FailSend("\n", errors.New("broken pipe")).
		Respond("show clock\n", "12:00:00 UTC\r\nce-01#")
	sess := newTestSession(t, ch)

	assert.NotPanics(t, func() { sess.DisablePaging(context.Background()) })
	assert.False(t, ch.Closed())
	assert.Equal(t, 0, ch.CloseCount())

	// 会话仍可继续使用
	out, err := sess.RunCommand(context.Background(), "show clock", time.Second)
	require.NoError(t, err)
	assert.Contains(t, out, "12:00:00 UTC")
}

func TestDisablePagingSwallowsReadTimeout(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	sess := newTestSession(t, ch, func(o *console.Options) { o.PagingReadTimeout = 30 * time.Millisecond })

	sess.DisablePaging(context.Background())

	assert.False(t, ch.Closed())
}

func TestRunCommandReadTimeoutReturnsPartialOutput(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	sess := newTestSession(t, ch)

	start := time.Now()
	out, err := sess.RunCommand(context.Background(), "show tech-support", 50*time.Millisecond)
	assert.ErrorIs(t, err, console.ErrReadTimeout)
	assert.Empty(t, out)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunCommandReadTimeoutOverrideWins(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	sess := newTestSession(t, ch, func(o *console.Options) { o.ReadTimeoutOverride = 40 * time.Millisecond })

	start := time.Now()
	_, err := sess.RunCommand(context.Background(), "show run", 30*time.Second)
	assert.ErrorIs(t, err, console.ErrReadTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunCommandStripOptions(t *testing.T) {
	ch := consoletest.NewFakeChannel("").Respond("show clock\n", "show clock\r\n12:00:00 UTC\r\nce-01#")
	sess := newTestSession(t, ch)

	out, err := sess.RunCommand(context.Background(), "show clock", time.Second,
		console.WithStripCommand(), console.WithStripPrompt(sess.Prompt()))
	require.NoError(t, err)
	assert.Equal(t, "12:00:00 UTC\n", out)
}

func TestRunCommandSessionBusy(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	sess := newTestSession(t, ch, func(o *console.Options) { o.SessionTimeout = 20 * time.Millisecond })

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = sess.RunCommand(context.Background(), "show logging", 300*time.Millisecond)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := sess.RunCommand(context.Background(), "show clock", time.Second)
	assert.ErrorIs(t, err, console.ErrSessionBusy)
	<-done
}

func TestDisconnectClosesExactlyOnceWhenEscapeFails(t *testing.T) {
	ch := consoletest.NewFakeChannel("").FailSend("\x1a", errors.New("channel write failed"))
	sess := newTestSession(t, ch)

	assert.NoError(t, sess.Disconnect())
	assert.NoError(t, sess.Disconnect())

	assert.Equal(t, 1, ch.CloseCount())
	assert.NotContains(t, ch.Sends(), "exit\n")
}

func TestDisconnectClosesWhenExitFails(t *testing.T) {
	ch := consoletest.NewFakeChannel("").FailSend("exit\n", errors.New("EOF"))
	sess := newTestSession(t, ch)

	assert.NoError(t, sess.Disconnect())
	assert.Equal(t, 1, ch.CloseCount())
	assert.Equal(t, []string{"send:\x1a", "send-error:exit\n", "close"}, ch.Events())
}

func TestDisconnectOrder(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	sess := newTestSession(t, ch)

	require.NoError(t, sess.Disconnect())
	assert.Equal(t, []string{"send:\x1a", "send:exit\n", "close"}, ch.Events())
	assert.True(t, sess.Closed())
}

func TestOperationsAfterDisconnect(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	sess := newTestSession(t, ch)
	require.NoError(t, sess.Disconnect())

	_, err := sess.RunCommand(context.Background(), "show version", time.Second)
	assert.ErrorIs(t, err, console.ErrSessionClosed)
	assert.ErrorIs(t, sess.ClearBuffer(context.Background()), console.ErrSessionClosed)

	sess.DisablePaging(context.Background())
	assert.Equal(t, 1, ch.CloseCount())
}

func TestCommandQueuedBehindDisconnectSeesClosedSession(t *testing.T) {
	ch := consoletest.NewFakeChannel("").Respond("show clock\n", "12:00:00 UTC\r\nce-01#")
	sess := newTestSession(t, ch, func(o *console.Options) { o.DisconnectPause = 100 * time.Millisecond })

	disconnected := make(chan error, 1)
	go func() { disconnected <- sess.Disconnect() }()
	// Disconnect 已持有会话锁并发出 <CTRL>-Z
	require.Eventually(t, func() bool { return len(ch.Sends()) > 0 }, time.Second, time.Millisecond)

	_, err := sess.RunCommand(context.Background(), "show clock", time.Second)
	assert.ErrorIs(t, err, console.ErrSessionClosed)
	assert.ErrorIs(t, sess.ClearBuffer(context.Background()), console.ErrSessionClosed)

	require.NoError(t, <-disconnected)
	assert.NotContains(t, ch.Sends(), "show clock\n")
	assert.Equal(t, 1, ch.CloseCount())
}
