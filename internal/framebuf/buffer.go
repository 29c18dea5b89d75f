package framebuf

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"skysweep/internal/frame"
)

// ErrStopped is returned by Pop once the buffer has been closed and drained.
var ErrStopped = errors.New("frame buffer stopped")

// DefaultCapacity bounds staleness to a few frames; latency is favored over
// completeness, so a deep buffer would only queue frames we intend to drop.
const DefaultCapacity = 3

// Buffer is the bounded queue between the capture worker and the processing
// consumer. Push never blocks: at capacity, the oldest buffered frame is
// discarded to make room. Pop blocks until a frame is available or the
// context is cancelled, returning frames in arrival order.
//
// Exactly one producer and one consumer are assumed; fan-out needs an
// explicit policy this type does not provide.
type Buffer struct {
	ch      chan frame.Frame
	dropped atomic.Uint64
	pushed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewBuffer returns a buffer with the given capacity. Capacities outside
// [1, 16] fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 || capacity > 16 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ch:   make(chan frame.Frame, capacity),
		done: make(chan struct{}),
	}
}

// Push inserts a frame, discarding the oldest buffered frame first if the
// buffer is full. It never blocks the caller. Pushes after Close are dropped.
func (b *Buffer) Push(f frame.Frame) {
	select {
	case <-b.done:
		b.dropped.Add(1)
		return
	default:
	}
	b.pushed.Add(1)
	for {
		select {
		case b.ch <- f:
			return
		default:
		}
		// Full: evict the oldest and retry. The single-producer precondition
		// makes the evict-then-insert race-free in practice; a concurrent pop
		// only helps us.
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Pop removes and returns the oldest buffered frame, blocking until one is
// available. It returns ctx.Err() on cancellation and ErrStopped once the
// buffer is closed and empty. A context cancelled before the call wins over
// buffered frames; only Close lets the consumer drain what remains.
func (b *Buffer) Pop(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	select {
	case f := <-b.ch:
		return f, nil
	default:
	}
	select {
	case f := <-b.ch:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	case <-b.done:
		// Drain anything pushed before close.
		select {
		case f := <-b.ch:
			return f, nil
		default:
			return frame.Frame{}, ErrStopped
		}
	}
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int { return len(b.ch) }

// Dropped returns the number of frames discarded under backpressure.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Pushed returns the number of frames accepted.
func (b *Buffer) Pushed() uint64 { return b.pushed.Load() }

// Close wakes any blocked consumer. Frames already buffered remain poppable.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
