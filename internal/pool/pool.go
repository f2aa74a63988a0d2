// Package pool provides size-classed, zero-filled byte buffers so the
// capture and inference paths can run at steady throughput without
// per-frame heap churn. It generalizes the allocate/free discipline of the
// teacher's jpeg.Image (internal/jpeg/pool.go) from a single turbojpeg
// buffer to a general-purpose size-classed free list.
package pool

import (
	"sync"
)

// sizeClasses are bucket ceilings in bytes. A request is rounded up to the
// smallest class that fits it; requests larger than the last class bypass
// the pool entirely.
var sizeClasses = []int{
	4 * 1024,
	64 * 1024,
	256 * 1024,
	512 * 1024,
	1024 * 1024,
	2 * 1024 * 1024,
}

// Pool is a concurrency-safe set of size-classed free lists of []byte.
type Pool struct {
	classes []*sync.Pool
}

// New builds a Pool with the default size classes.
func New() *Pool {
	p := &Pool{classes: make([]*sync.Pool, len(sizeClasses))}
	for i, class := range sizeClasses {
		size := class
		p.classes[i] = &sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		}
	}
	return p
}

func classFor(n int) int {
	for i, class := range sizeClasses {
		if n <= class {
			return i
		}
	}
	return -1
}

// Rent returns a zeroed buffer of at least n bytes. Oversized requests are
// allocated directly and never returned to a free list.
func (p *Pool) Rent(n int) []byte {
	idx := classFor(n)
	if idx < 0 {
		return make([]byte, n)
	}
	buf := p.classes[idx].Get().([]byte)
	buf = buf[:n]
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Return zero-fills b and returns it to the pool matching its capacity.
// Buffers whose capacity does not match a size class exactly are dropped
// (they were oversized allocations from Rent).
func (p *Pool) Return(b []byte) {
	cap := cap(b)
	for i, class := range sizeClasses {
		if cap == class {
			buf := b[:cap]
			for j := range buf {
				buf[j] = 0
			}
			p.classes[i].Put(buf)
			return
		}
	}
}
