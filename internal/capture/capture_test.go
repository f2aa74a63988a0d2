package capture

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/pool"
	"github.com/warpcomdev/edgevisiond/internal/ring"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

func noopLogger() servicelog.Logger {
	return servicelog.New(nil, "/dev/null", false)
}

func newTestSource() *Source {
	return &Source{
		CameraID: "cam1",
		pool:     pool.New(),
		ring:     ring.New(ring.Capacity, 0, nil),
		log:      noopLogger(),
		state:    StateStarting,
	}
}

func TestRecordRestartPrunesOutsideWindow(t *testing.T) {
	s := newTestSource()
	base := time.Now()

	s.recordRestart(base)
	s.recordRestart(base.Add(time.Minute))
	assert.False(t, s.tooManyRestarts(base.Add(time.Minute)))

	// Past restartWindow, the first two entries should have aged out.
	later := base.Add(restartWindow + time.Minute)
	assert.False(t, s.tooManyRestarts(later))
	s.recordRestart(later)
	assert.Equal(t, 1, len(s.restartLog))
}

func TestTooManyRestartsTripsAtThreshold(t *testing.T) {
	s := newTestSource()
	base := time.Now()
	for i := 0; i < maxRestartsInWindow-1; i++ {
		s.recordRestart(base.Add(time.Duration(i) * time.Second))
	}
	assert.False(t, s.tooManyRestarts(base.Add(time.Duration(maxRestartsInWindow)*time.Second)))

	s.recordRestart(base.Add(time.Duration(maxRestartsInWindow) * time.Second))
	assert.True(t, s.tooManyRestarts(base.Add(time.Duration(maxRestartsInWindow)*time.Second)))
}

func TestMonitorSilenceDegradesThenRestarts(t *testing.T) {
	s := newTestSource()
	s.mu.Lock()
	s.lastFrameAt = time.Now().Add(-silenceDegraded - time.Second)
	s.state = StateRunning
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.monitorSilence(ctx, cancel)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return s.State() == StateDegraded
	}, time.Second, 10*time.Millisecond)

	s.mu.Lock()
	s.lastFrameAt = time.Now().Add(-silenceRestart - time.Second)
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitorSilence did not cancel after silenceRestart elapsed")
	}
	assert.Equal(t, StateRestarting, s.State())
}

func TestReadFramesPushesAndTracksLastFrameAt(t *testing.T) {
	s := newTestSource()
	frame := bytes.Repeat([]byte{1}, frameBytes)
	stream := bytes.Repeat(frame, 2)
	r := bufio.NewReader(bytes.NewReader(stream))

	before := time.Now()
	err := s.readFrames(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), s.frameNum)
	assert.True(t, s.lastFrameAt.After(before) || s.lastFrameAt.Equal(before))
	assert.Equal(t, 2, s.ring.Len())
}

func TestReadFramesRecoversFromDegraded(t *testing.T) {
	s := newTestSource()
	s.state = StateDegraded
	frame := bytes.Repeat([]byte{2}, frameBytes)
	r := bufio.NewReader(bytes.NewReader(frame))

	err := s.readFrames(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s.State())
}
