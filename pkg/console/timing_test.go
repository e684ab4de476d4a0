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

func fastTiming() console.TimingOptions {
	return console.TimingOptions{
		ReadTimeout: 2 * time.Second,
		LoopDelay:   2 * time.Millisecond,
		LastRead:    60 * time.Millisecond,
		Return:      "\n",
	}
}

func TestSendCommandTimingCollectsChunkedOutput(t *testing.T) {
	ch := consoletest.NewFakeChannel("").Respond("show interfaces\n", "show interfaces\r\n")
	go func() {
		for _, chunk := range []string{"GE1/0/1 up\r\n", "GE1/0/2 down\r\n", "ce-01#"} {
			time.Sleep(10 * time.Millisecond)
			ch.Push(chunk)
		}
	}()

	out, err := console.SendCommandTiming(context.Background(), ch, "show interfaces", fastTiming())
	require.NoError(t, err)
	assert.Equal(t, "show interfaces\nGE1/0/1 up\nGE1/0/2 down\nce-01#", out)
}

func TestSendCommandTimingDoesNotVerifyEcho(t *testing.T) {
	ch := consoletest.NewFakeChannel("").Respond("display version\n", "garbled echo\r\nVRP 8.180\r\n")

	out, err := console.SendCommandTiming(context.Background(), ch, "display version", fastTiming())
	require.NoError(t, err)
	assert.Equal(t, "garbled echo\nVRP 8.180\n", out)
}

func TestSendCommandTimingSendFailure(t *testing.T) {
	sendErr := errors.New("broken pipe")
	ch := consoletest.NewFakeChannel("").FailSend("show run\n", sendErr)

	_, err := console.SendCommandTiming(context.Background(), ch, "show run", fastTiming())
	assert.ErrorIs(t, err, sendErr)
}

func TestSendCommandTimingContextCancel(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := console.SendCommandTiming(ctx, ch, "show run", fastTiming())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendCommandTimingReportsTransportError(t *testing.T) {
	resetErr := errors.New("connection reset by peer")
	ch := consoletest.NewFakeChannel("").Respond("show tech-support\n", "show tech-support\r\n---- partial ----\r\n")
	ch.EndStream(resetErr)

	opts := fastTiming()
	opts.ReadTimeout = 5 * time.Second
	start := time.Now()
	out, err := console.SendCommandTiming(context.Background(), ch, "show tech-support", opts)

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, console.ErrStreamEnded)
	assert.ErrorIs(t, err, resetErr)
	assert.NotErrorIs(t, err, console.ErrReadTimeout)
	assert.Equal(t, "show tech-support\n---- partial ----\n", out)
}

func TestSendCommandTimingRemoteClose(t *testing.T) {
	ch := consoletest.NewFakeChannel("")
	ch.EndStream(nil)

	_, err := console.SendCommandTiming(context.Background(), ch, "show clock", fastTiming())
	assert.ErrorIs(t, err, console.ErrStreamEnded)
}
