// Package batch implements the per-camera batch scheduler (spec C5): a
// single consumer goroutine collects frames off a bounded channel (2*MaxBatch
// frames; when it is full, Submit drops the oldest pending frame) into
// micro-batches for the inference session, the same producer-feeds-channel,
// consumer-drains-channel split as the teacher's drainer
// (internal/jpeg/pool.go), generalized with a size/deadline-bounded batch
// window instead of one-frame-at-a-time delivery.
package batch

import (
	"context"
	"time"

	"github.com/warpcomdev/edgevisiond/internal/ring"
)

const (
	// MaxBatch is the hard ceiling on frames collected into one batch.
	MaxBatch = 16
	// OptimalBatch is the preferred batch size the scheduler tries to
	// reach before the deadline fires.
	OptimalBatch = 8
	// Window is how long the scheduler waits to fill a batch before
	// flushing whatever it has collected.
	Window = 500 * time.Millisecond
	// DrainBudget bounds how long Scheduler.Run waits for in-flight work
	// to finish delivering after ctx is cancelled.
	DrainBudget = 5 * time.Second
)

// Batch is an ordered group of frames from one camera, handed to the
// inference stage as a unit.
type Batch struct {
	CameraID string
	Frames   []*ring.Frame
}

// Scheduler collects frames pushed via Submit into size/deadline-bounded
// batches and delivers them, in submission order, to a single consumer.
// It is built for one Scheduler per camera, matching the per-camera
// goroutine topology used throughout the pipeline.
type Scheduler struct {
	CameraID string
	in       chan *ring.Frame
	out      chan Batch
}

// New builds a Scheduler for one camera. outBuf sizes the output channel;
// callers that consume promptly can use a small buffer (1-2).
func New(cameraID string, outBuf int) *Scheduler {
	return &Scheduler{
		CameraID: cameraID,
		in:       make(chan *ring.Frame, MaxBatch*2),
		out:      make(chan Batch, outBuf),
	}
}

// Submit enqueues a frame for batching. It never blocks indefinitely: the
// input channel is sized generously, but a full channel means the
// consumer has fallen far behind and Submit drops the oldest pending
// frame to make room, preferring freshness over completeness.
func (s *Scheduler) Submit(f *ring.Frame) {
	select {
	case s.in <- f:
	default:
		select {
		case <-s.in:
		default:
		}
		select {
		case s.in <- f:
		default:
		}
	}
}

// Batches returns the channel batches are delivered on.
func (s *Scheduler) Batches() <-chan Batch {
	return s.out
}

// Run collects frames into batches until ctx is cancelled, then drains any
// remaining buffered frames as a final batch within DrainBudget before
// closing the output channel.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.out)
	for {
		batch, ok := s.collect(ctx)
		if len(batch) > 0 {
			s.deliver(ctx, Batch{CameraID: s.CameraID, Frames: batch})
		}
		if !ok {
			return
		}
	}
}

// collect gathers up to MaxBatch frames, stopping early once OptimalBatch
// is reached or Window elapses. The bool return is false once ctx is done
// and the input channel has nothing left to drain.
func (s *Scheduler) collect(ctx context.Context) ([]*ring.Frame, bool) {
	var batch []*ring.Frame
	timer := time.NewTimer(Window)
	defer timer.Stop()

	for len(batch) < MaxBatch {
		select {
		case f, ok := <-s.in:
			if !ok {
				return batch, false
			}
			batch = append(batch, f)
			if len(batch) >= OptimalBatch {
				return batch, true
			}
		case <-timer.C:
			return batch, true
		case <-ctx.Done():
			return s.drain(batch), false
		}
	}
	return batch, true
}

// drain pulls any frames already queued, up to DrainBudget, so cancellation
// doesn't silently discard work that already arrived.
func (s *Scheduler) drain(batch []*ring.Frame) []*ring.Frame {
	deadline := time.After(DrainBudget)
	for len(batch) < MaxBatch {
		select {
		case f, ok := <-s.in:
			if !ok {
				return batch
			}
			batch = append(batch, f)
		case <-deadline:
			return batch
		default:
			return batch
		}
	}
	return batch
}

func (s *Scheduler) deliver(ctx context.Context, b Batch) {
	select {
	case s.out <- b:
	case <-time.After(DrainBudget):
	}
}
