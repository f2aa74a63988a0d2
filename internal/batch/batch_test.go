package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/ring"
)

func TestCollectFlushesAtOptimalBatch(t *testing.T) {
	s := New("cam0", 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < OptimalBatch; i++ {
		s.Submit(&ring.Frame{})
	}

	select {
	case b := <-s.Batches():
		assert.Len(t, b.Frames, OptimalBatch)
		assert.Equal(t, "cam0", b.CameraID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestCollectFlushesOnWindowDeadline(t *testing.T) {
	s := New("cam0", 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(&ring.Frame{})
	s.Submit(&ring.Frame{})

	select {
	case b := <-s.Batches():
		assert.Len(t, b.Frames, 2)
	case <-time.After(Window + time.Second):
		t.Fatal("timed out waiting for window flush")
	}
}

func TestRunClosesOutputOnCancel(t *testing.T) {
	s := New("cam0", 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(DrainBudget + time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, ok := <-s.Batches()
	require.False(t, ok, "output channel should be closed")
}
