// Package ring implements the per-camera bounded circular frame buffer
// (spec C2). Its indexing scheme is the teacher's generic Fifo
// (internal/driver/fifo/fifo.go: head/tail indices, overwrite-evicts-oldest)
// generalized with a per-slot age so frames older than a freshness floor
// are evicted on access rather than only on overwrite.
package ring

import (
	"context"
	"sync"
	"time"

	"github.com/warpcomdev/edgevisiond/internal/model"
)

// Frame is one raw capture frame plus the pool-owned buffer backing it.
type Frame struct {
	Raw       model.RawFrame
	Buffer    []byte
	Captured  time.Time
}

// Capacity is the per-camera ring size from spec §4.2 (N <= 30).
const Capacity = 30

// Buffer is a bounded, age-evicting ring for a single camera. It is built
// for single-producer/single-consumer use, matching the teacher's
// drainer/Fifo split between one writer goroutine and one reader goroutine
// per camera.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*Frame
	size     int
	head     int // next write position
	tail     int // next read position, -1 when empty
	maxAge   time.Duration
	onEvict  func(*Frame)
	closed   bool
}

// New builds a Buffer of the given capacity. onEvict, if non-nil, is
// called with any frame displaced by Push or dropped for being stale; it is
// the hook the caller uses to return the frame's buffer to the pool.
func New(capacity int, maxAge time.Duration, onEvict func(*Frame)) *Buffer {
	if capacity <= 0 {
		capacity = Capacity
	}
	b := &Buffer{
		items:   make([]*Frame, capacity),
		size:    capacity,
		head:    0,
		tail:    -1,
		maxAge:  maxAge,
		onEvict: onEvict,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push inserts a frame, evicting the oldest resident frame if the ring is
// full. The evicted frame (if any) is handed to onEvict so its buffer can
// be returned to the pool, per spec §4.2.
func (b *Buffer) Push(f *Frame) {
	b.mu.Lock()
	old := b.items[b.head]
	b.items[b.head] = f
	evicted := false
	switch {
	case b.tail < 0:
		b.tail = b.head
	case b.tail == b.head:
		evicted = true
	}
	b.head = (b.head + 1) % b.size
	if evicted {
		b.tail = b.head
	}
	b.cond.Broadcast()
	b.mu.Unlock()
	if evicted && old != nil && b.onEvict != nil {
		b.onEvict(old)
	}
}

// evictStaleLocked drops resident frames older than maxAge from the tail,
// returning each to onEvict. Caller must hold b.mu.
func (b *Buffer) evictStaleLocked(now time.Time) {
	if b.maxAge <= 0 {
		return
	}
	for b.tail >= 0 {
		f := b.items[b.tail]
		if f == nil || now.Sub(f.Captured) <= b.maxAge {
			return
		}
		b.items[b.tail] = nil
		b.tail = (b.tail + 1) % b.size
		if b.tail == b.head {
			b.tail = -1
		}
		if b.onEvict != nil {
			b.mu.Unlock()
			b.onEvict(f)
			b.mu.Lock()
		}
	}
}

// Take removes and returns the newest resident frame, blocking until one
// arrives or the deadline elapses. Any frame older than maxAge is evicted
// before a candidate is returned, per spec invariant "age of any resident
// frame is <= 10s".
func (b *Buffer) Take(ctx context.Context, deadline time.Duration) (*Frame, bool) {
	done := make(chan struct{})
	timer := time.AfterFunc(deadline, func() { close(done) })
	defer timer.Stop()

	waiter := make(chan struct{})
	go func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for {
			b.evictStaleLocked(time.Now())
			if b.closed {
				close(waiter)
				return
			}
			if b.tail >= 0 {
				close(waiter)
				return
			}
			// Poll with a bound so we can still observe ctx/deadline.
			b.mu.Unlock()
			select {
			case <-time.After(10 * time.Millisecond):
			case <-done:
			case <-ctx.Done():
			}
			b.mu.Lock()
			select {
			case <-done:
				close(waiter)
				return
			case <-ctx.Done():
				close(waiter)
				return
			default:
			}
		}
	}()

	select {
	case <-waiter:
	case <-done:
	case <-ctx.Done():
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictStaleLocked(time.Now())
	if b.tail < 0 {
		return nil, false
	}
	// Return the newest frame (head-1), not the oldest, per spec: "take()
	// removes the newest frame older than a configurable freshness floor".
	newestIdx := (b.head - 1 + b.size) % b.size
	f := b.items[newestIdx]
	if f == nil {
		return nil, false
	}
	// Drain the whole ring: once consumed, nothing stays resident.
	for i := 0; i < b.size; i++ {
		if b.items[i] != nil && i != newestIdx && b.onEvict != nil {
			stale := b.items[i]
			b.items[i] = nil
			go b.onEvict(stale)
		} else if i != newestIdx {
			b.items[i] = nil
		}
	}
	b.items[newestIdx] = nil
	b.tail = -1
	b.head = 0
	return f, true
}

// Len returns the number of frames currently resident.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tail < 0 {
		return 0
	}
	if b.head > b.tail {
		return b.head - b.tail
	}
	return b.head + b.size - b.tail
}

// Close wakes any blocked Take and marks the buffer unusable.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
