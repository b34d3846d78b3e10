package playback_test

import (
	"bytes"
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
	"github.com/leomancini/ai-phone-firmware/runtime/process/processtest"
)

func testConfig() playback.Config {
	cfg := playback.DefaultConfig()
	cfg.StreamHeader = false
	cfg.StallTimeout = 2 * time.Second
	cfg.DrainTimeout = 2 * time.Second
	cfg.Ladder = process.Ladder{
		Steps:      []process.Step{{Signal: syscall.SIGTERM, Grace: 50 * time.Millisecond}},
		SweepGrace: 50 * time.Millisecond,
	}
	return cfg
}

func chunk(seq uint64, n int) audio.Chunk {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(seq)
	}
	return audio.WrapChunk(seq, data)
}

func waitDrain(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("drain did not resolve")
		return nil
	}
}

func TestPipe_WritesInArrivalOrderAndDrains(t *testing.T) {
	sink := &processtest.Buffer{}
	launcher := processtest.NewLauncher(processtest.ReadStdin(sink))
	pipe := playback.New(testConfig(), launcher)

	h, err := pipe.Start(context.Background())
	require.NoError(t, err)

	var want []byte
	for i := range 5 {
		c := chunk(uint64(i), 3200)
		want = append(want, c.Bytes()...)
		outcome, err := h.Write(c)
		require.NoError(t, err)
		assert.Equal(t, playback.Accepted, outcome)
	}

	require.NoError(t, waitDrain(t, h.Drain()))
	assert.Equal(t, want, sink.Bytes())

	stats := h.Stats()
	assert.Equal(t, 5, stats.Accepted)
	assert.Equal(t, 5, stats.Written)
	assert.Equal(t, int64(16000), stats.BytesWritten)
	assert.Zero(t, stats.Dropped)
	assert.True(t, launcher.Last("playback").Exited())

	h.ForceStop()
	assert.Empty(t, launcher.Last("playback").Signals(), "drained sink is not signalled")
}

func TestPipe_StreamHeaderPrecedesAudio(t *testing.T) {
	sink := &processtest.Buffer{}
	launcher := processtest.NewLauncher(processtest.ReadStdin(sink))
	cfg := testConfig()
	cfg.StreamHeader = true
	h, err := playback.New(cfg, launcher).Start(context.Background())
	require.NoError(t, err)

	_, err = h.Write(chunk(1, 100))
	require.NoError(t, err)
	require.NoError(t, waitDrain(t, h.Drain()))

	out := sink.Bytes()
	require.Len(t, out, audio.HeaderSize+100)
	info, err := audio.ParseHeader(out[:audio.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, uint32(audio.StreamingDataLen), info.DataLen)
}

func TestPipe_BackpressureAndReady(t *testing.T) {
	gate := make(chan struct{})
	sink := &processtest.Buffer{}
	launcher := processtest.NewLauncher(func(p *processtest.Process) {
		<-gate
		processtest.ReadStdin(sink)(p)
	})
	cfg := testConfig()
	cfg.CapacityBytes = 4000
	h, err := playback.New(cfg, launcher).Start(context.Background())
	require.NoError(t, err)

	outcome, err := h.Write(chunk(0, 3200))
	require.NoError(t, err)
	assert.Equal(t, playback.Accepted, outcome)

	outcome, err = h.Write(chunk(1, 3200))
	require.NoError(t, err)
	assert.Equal(t, playback.Backpressured, outcome)

	select {
	case <-h.Ready():
		t.Fatal("ready before the sink consumed anything")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-h.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ready never fired")
	}

	outcome, err = h.Write(chunk(2, 100))
	require.NoError(t, err)
	assert.Equal(t, playback.Accepted, outcome)

	require.NoError(t, waitDrain(t, h.Drain()))
	assert.Equal(t, 3200+3200+100, sink.Len())
	assert.Equal(t, 1, h.Stats().Backpressured)
}

func TestPipe_ForceStopDiscardsQueue(t *testing.T) {
	launcher := processtest.NewLauncher(nil) // never reads stdin
	h, err := playback.New(testConfig(), launcher).Start(context.Background())
	require.NoError(t, err)

	_, err = h.Write(chunk(0, 3200))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Stats().Queued == 0 }, time.Second, 5*time.Millisecond)

	for i := 1; i <= 3; i++ {
		_, err = h.Write(chunk(uint64(i), 3200))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.Stats().Queued)

	drain := h.Drain()
	start := time.Now()
	h.ForceStop()
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, waitDrain(t, drain))
	assert.Equal(t, 3, h.Stats().Dropped)
	assert.Zero(t, h.Stats().Written)
	assert.Equal(t, 0, launcher.Live())

	h.ForceStop()
	_, err = h.Write(chunk(9, 10))
	assert.ErrorIs(t, err, playback.ErrClosed)
	assert.NoError(t, waitDrain(t, h.Drain()))
}

func TestPipe_StallFailsHandle(t *testing.T) {
	launcher := processtest.NewLauncher(nil)
	cfg := testConfig()
	cfg.StallTimeout = 80 * time.Millisecond
	h, err := playback.New(cfg, launcher).Start(context.Background())
	require.NoError(t, err)
	defer h.ForceStop()

	_, err = h.Write(chunk(0, 3200))
	require.NoError(t, err)

	select {
	case err := <-h.Failed():
		assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindPlaybackStall))
	case <-time.After(2 * time.Second):
		t.Fatal("stall not detected")
	}
	err = waitDrain(t, h.Drain())
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindPlaybackStall))
}

func TestPipe_DrainTimeout(t *testing.T) {
	// Reads everything but never exits after stdin closes.
	launcher := processtest.NewLauncher(func(p *processtest.Process) {
		_, _ = bytes.NewBuffer(nil).ReadFrom(p.StdinReader())
	})
	cfg := testConfig()
	cfg.DrainTimeout = 100 * time.Millisecond
	cfg.StallTimeout = 100 * time.Millisecond
	h, err := playback.New(cfg, launcher).Start(context.Background())
	require.NoError(t, err)
	defer h.ForceStop()

	_, err = h.Write(chunk(0, 320))
	require.NoError(t, err)

	err = waitDrain(t, h.Drain())
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindPlaybackStall))
}

func TestPipe_UnexpectedSinkExit(t *testing.T) {
	launcher := processtest.NewLauncher(func(p *processtest.Process) {
		p.WriteStderr("sox FAIL sox: `plughw:3,0' Device or resource busy")
		p.Exit(errors.New("exit status 2"))
	})
	h, err := playback.New(testConfig(), launcher).Start(context.Background())
	require.NoError(t, err)
	defer h.ForceStop()

	select {
	case err := <-h.Failed():
		assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindFatalDevice))
	case <-time.After(2 * time.Second):
		t.Fatal("exit not reported")
	}
}

func TestPipe_EachStartIsANewStream(t *testing.T) {
	sink := &processtest.Buffer{}
	launcher := processtest.NewLauncher(processtest.ReadStdin(sink))
	pipe := playback.New(testConfig(), launcher)

	first, err := pipe.Start(context.Background())
	require.NoError(t, err)
	_, err = first.Write(chunk(0, 10))
	require.NoError(t, err)
	first.ForceStop()

	second, err := pipe.Start(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Stats().Accepted)
	_, err = second.Write(chunk(0, 10))
	require.NoError(t, err)
	require.NoError(t, waitDrain(t, second.Drain()))
	assert.Equal(t, 2, launcher.Count("playback"))
}
