package ring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/model"
)

func frameAt(t time.Time, n uint64) *Frame {
	return &Frame{
		Raw:      model.RawFrame{FrameNumber: n, CapturedAt: t},
		Buffer:   []byte{byte(n)},
		Captured: t,
	}
}

func TestPushTakeReturnsNewestFrame(t *testing.T) {
	b := New(4, 0, nil)
	now := time.Now()
	b.Push(frameAt(now, 1))
	b.Push(frameAt(now.Add(time.Millisecond), 2))

	f, ok := b.Take(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Raw.FrameNumber)
}

func TestTakeTimesOutWhenEmpty(t *testing.T) {
	b := New(4, 0, nil)
	start := time.Now()
	_, ok := b.Take(context.Background(), 50*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPushEvictsOldestWhenFull(t *testing.T) {
	var evicted []uint64
	b := New(2, 0, func(f *Frame) {
		evicted = append(evicted, f.Raw.FrameNumber)
	})
	now := time.Now()
	b.Push(frameAt(now, 1))
	b.Push(frameAt(now, 2))
	b.Push(frameAt(now, 3))

	require.Len(t, evicted, 1)
	assert.Equal(t, uint64(1), evicted[0])
}

func TestTakeEvictsStaleFramesByAge(t *testing.T) {
	var evicted []uint64
	b := New(4, 10*time.Millisecond, func(f *Frame) {
		evicted = append(evicted, f.Raw.FrameNumber)
	})
	old := time.Now().Add(-1 * time.Hour)
	b.Push(frameAt(old, 1))

	time.Sleep(20 * time.Millisecond)
	_, ok := b.Take(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.Contains(t, evicted, uint64(1))
}

func TestTakeRespectsContextCancellation(t *testing.T) {
	b := New(4, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := b.Take(ctx, time.Second)
	assert.False(t, ok)
}
