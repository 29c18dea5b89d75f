package framebuf

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"skysweep/internal/frame"
)

// FrameSource yields decoded frames from an external stream. Implementations
// return an error for transient acquisition failures (stream stall, decode
// glitch); the worker retries with backoff rather than unwinding.
type FrameSource interface {
	Next(ctx context.Context) (frame.Frame, error)
}

// CaptureConfig tunes the capture worker.
type CaptureConfig struct {
	// AcquireTimeout bounds a single source acquisition and the worker join.
	AcquireTimeout time.Duration
	// InitialBackoff is the first retry delay after an acquisition failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration
}

// DefaultCaptureConfig returns the defaults used when fields are zero.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		AcquireTimeout: 2 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// CaptureStats is a snapshot of worker counters.
type CaptureStats struct {
	FramesCaptured uint64
	FramesDropped  uint64
	Retries        uint64
	LastFrameTime  time.Time
}

// CaptureWorker runs on its own goroutine, pulling frames from the source,
// timestamping them and pushing into the buffer. It never blocks on the
// detection pipeline: the buffer's drop-oldest policy absorbs a slow
// consumer.
type CaptureWorker struct {
	src    FrameSource
	buf    *Buffer
	cfg    CaptureConfig
	clock  clock.Clock
	logger *zap.SugaredLogger

	seq       atomic.Uint64
	retries   atomic.Uint64
	lastFrame atomic.Int64 // unix nanos

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCaptureWorker wires a worker to a source and buffer. A nil clock uses
// the wall clock.
func NewCaptureWorker(src FrameSource, buf *Buffer, cfg CaptureConfig, clk clock.Clock, logger *zap.SugaredLogger) *CaptureWorker {
	def := DefaultCaptureConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CaptureWorker{src: src, buf: buf, cfg: cfg, clock: clk, logger: logger.Named("capture")}
}

// Start launches the capture loop. It is an error to start a running worker.
func (w *CaptureWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop and waits for it to exit. The join completes within
// one acquisition timeout because the per-acquisition context is cancelled
// with the loop's.
func (w *CaptureWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
}

// Stats returns a snapshot of the worker counters. Dropped frames are
// attributed to the buffer's backpressure policy.
func (w *CaptureWorker) Stats() CaptureStats {
	var last time.Time
	if ns := w.lastFrame.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return CaptureStats{
		FramesCaptured: w.seq.Load(),
		FramesDropped:  w.buf.Dropped(),
		Retries:        w.retries.Load(),
		LastFrameTime:  last,
	}
}

func (w *CaptureWorker) run(ctx context.Context) {
	defer w.wg.Done()
	backoff := w.cfg.InitialBackoff
	for ctx.Err() == nil {
		acquireCtx, cancel := context.WithTimeout(ctx, w.cfg.AcquireTimeout)
		f, err := w.src.Next(acquireCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.retries.Add(1)
			w.logger.Warnw("frame acquisition failed, retrying", "error", err, "backoff", backoff)
			t := w.clock.Timer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
			backoff *= 2
			if backoff > w.cfg.MaxBackoff {
				backoff = w.cfg.MaxBackoff
			}
			continue
		}
		backoff = w.cfg.InitialBackoff

		f.Seq = w.seq.Add(1)
		if f.Timestamp.IsZero() {
			f.Timestamp = w.clock.Now()
		}
		w.lastFrame.Store(f.Timestamp.UnixNano())
		w.buf.Push(f)
	}
}
