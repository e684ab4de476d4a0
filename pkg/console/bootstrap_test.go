package console_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/console/consoletest"
)

var ceTarget = console.Target{Host: "192.168.2.78", Port: 22, Username: "admin", Password: "avocent", ConsolePort: 7001, PortSuffixLogin: true}

func dialerFor(ch *consoletest.FakeChannel) *consoletest.FakeDialer {
	return &consoletest.FakeDialer{NewChannel: func(console.Target) *consoletest.FakeChannel { return ch }}
}

func countSends(ch *consoletest.FakeChannel, text string) int {
	n := 0
	for _, s := range ch.Sends() {
		if s == text {
			n++
		}
	}
	return n
}

func TestConnectStuckSessionSendsOneNudge(t *testing.T) {
	banners := []string{
		"<CTRL>Z",
		"Welcome to ACS\r\n<CTRL>Z\r\n",
		"port in use ... press <CTRL>Z to return <CTRL>Z",
	}
	for _, banner := range banners {
		ch := consoletest.NewFakeChannel(banner)
		sess, _, err := console.Connect(context.Background(), dialerFor(ch), ceTarget, consoletest.FastOptions(), nil)
		require.NoError(t, err)

		assert.Equal(t, 1, countSends(ch, "\n\r"), "banner %q", banner)
		assert.Equal(t, console.DefaultPrompt, sess.Prompt())
	}
}

func TestConnectWithoutMarkerSendsNoNudge(t *testing.T) {
	ch := consoletest.NewFakeChannel("Welcome to ACS\r\n")
	_, _, err := console.Connect(context.Background(), dialerFor(ch), ceTarget, consoletest.FastOptions(), nil)
	require.NoError(t, err)

	assert.Empty(t, ch.Sends())
}

func TestConnectNudgePrecedesPromptDetection(t *testing.T) {
	ch := consoletest.NewFakeChannel("<CTRL>Z").Respond("\n\r", "\r\nce-01#")
	sess, _, err := console.Connect(context.Background(), dialerFor(ch), ceTarget, consoletest.FastOptions(), &console.DelimiterDetector{Delimiters: "#>"})
	require.NoError(t, err)

	// 第一次为恢复回车，第二次由探测器发送
	assert.Equal(t, []string{"\n\r", "\n\r"}, ch.Sends())
	assert.Equal(t, "ce-01", sess.Prompt())
	assert.False(t, ch.IsReadable(), "residual output must be cleared")
}

func TestConnectDialFailureIsFatal(t *testing.T) {
	dialErr := errors.New("ssh: handshake failed: unable to authenticate")
	d := &consoletest.FakeDialer{DialErr: dialErr}

	sess, transport, err := console.Connect(context.Background(), d, ceTarget, consoletest.FastOptions(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
	assert.Nil(t, sess)
	assert.Nil(t, transport)
	assert.Len(t, d.Targets, 1, "no retry expected")
}

func TestConnectOpenShellFailureClosesTransport(t *testing.T) {
	openErr := errors.New("ssh: rejected: administratively prohibited")
	var created *consoletest.FakeTransport
	d := &consoletest.FakeDialer{NewChannel: func(console.Target) *consoletest.FakeChannel { return nil }}

	// 包装拨号器以注入打开失败
	wrapped := dialFunc(func(ctx context.Context, target console.Target) (console.Transport, error) {
		tr, err := d.Dial(ctx, target)
		if err != nil {
			return nil, err
		}
		created = tr.(*consoletest.FakeTransport)
		created.OpenErr = openErr
		return created, nil
	})

	_, _, err := console.Connect(context.Background(), wrapped, ceTarget, consoletest.FastOptions(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, openErr)
	require.NotNil(t, created)
	assert.True(t, created.Closed())
}

func TestConnectRejectsInvalidOptions(t *testing.T) {
	opts := consoletest.FastOptions()
	opts.DelayFactor = 0
	d := dialerFor(consoletest.NewFakeChannel(""))

	_, _, err := console.Connect(context.Background(), d, ceTarget, opts, nil)
	assert.ErrorIs(t, err, console.ErrInvalidOptions)
	assert.Empty(t, d.Targets)
}

func TestConnectWritesSessionLog(t *testing.T) {
	var buf bytes.Buffer
	opts := consoletest.FastOptions()
	opts.SessionLog = &buf
	ch := consoletest.NewFakeChannel("Welcome to ACS\r\n").Respond("\n\r", "\r\nce-01#")

	_, _, err := console.Connect(context.Background(), dialerFor(ch), ceTarget, opts, &console.DelimiterDetector{Delimiters: "#>"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(buf.String(), "Welcome to ACS"))
	assert.Contains(t, buf.String(), "ce-01#")
}

func TestFullRoundTrip(t *testing.T) {
	const versionOut = "show version\r\nHuawei Versatile Routing Platform Software\r\nVRP (R) software, Version 8.180\r\nce-01#"
	ch := consoletest.NewFakeChannel("Welcome to ACS\r\n<CTRL>Z\r\n").
		Respond("\n\r", "\r\nce-01#").
		Respond("\n", "\r\nce-01#").
		Respond("terminal length 0\n", "terminal length 0\r\nce-01#").
		Respond("show version\n", versionOut).
		Respond("exit\n", "\r\nlogout\r\n")
	d := dialerFor(ch)

	sess, transport, err := console.Connect(context.Background(), d, ceTarget, consoletest.FastOptions(), &console.DelimiterDetector{Delimiters: "#>"})
	require.NoError(t, err)
	require.Equal(t, "ce-01", sess.Prompt())
	assert.Equal(t, "admin:7001", d.Targets[0].Login())

	sess.DisablePaging(context.Background())

	out, err := sess.RunCommand(context.Background(), "show version", 0)
	require.NoError(t, err)
	assert.Equal(t, "show version\nHuawei Versatile Routing Platform Software\nVRP (R) software, Version 8.180\nce-01#", out)

	require.NoError(t, sess.Disconnect())
	require.NoError(t, transport.Close())

	assert.True(t, ch.Closed())
	assert.Equal(t, 1, ch.CloseCount())
	assert.True(t, d.Transports[0].Closed())

	events := ch.Events()
	idx := func(ev string) int {
		for i, e := range events {
			if e == ev {
				return i
			}
		}
		return -1
	}
	cmdAt := idx("send:show version\n")
	escAt := idx("send:\x1a")
	exitAt := idx("send:exit\n")
	require.NotEqual(t, -1, cmdAt)
	require.NotEqual(t, -1, escAt)
	require.NotEqual(t, -1, exitAt)
	assert.Equal(t, "recv:"+versionOut, events[cmdAt+1], "command output drained right after the send")
	assert.Less(t, cmdAt, escAt)
	assert.Less(t, escAt, exitAt)
	assert.Equal(t, "close", events[len(events)-1])
}

type dialFunc func(ctx context.Context, target console.Target) (console.Transport, error)

func (f dialFunc) Dial(ctx context.Context, target console.Target) (console.Transport, error) {
	return f(ctx, target)
}

func TestSessionLogKeepsStreamStatus(t *testing.T) {
	var buf bytes.Buffer
	opts := consoletest.FastOptions()
	opts.SessionLog = &buf
	ch := consoletest.NewFakeChannel("").Respond("\n\r", "\r\nce-01#")

	sess, _, err := console.Connect(context.Background(), dialerFor(ch), ceTarget, opts, &console.DelimiterDetector{Delimiters: "#>"})
	require.NoError(t, err)

	dropped := errors.New("ssh: connection lost")
	ch.EndStream(dropped)
	_, err = sess.RunCommand(context.Background(), "show version", 5*time.Second)
	assert.ErrorIs(t, err, dropped)
	assert.NotErrorIs(t, err, console.ErrReadTimeout)
}
