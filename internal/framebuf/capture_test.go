package framebuf

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skysweep/internal/frame"
)

// scriptedSource fails the first failures calls, then yields up to limit
// frames before blocking. Bounding the output keeps sequence assertions
// deterministic: an unbounded source would race the consumer and evict
// frames from the buffer.
type scriptedSource struct {
	failures int32
	limit    int32
	calls    atomic.Int32
	emitted  atomic.Int32
}

func (s *scriptedSource) Next(ctx context.Context) (frame.Frame, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return frame.Frame{}, errors.New("stream stalled")
	}
	if s.limit > 0 && s.emitted.Load() >= s.limit {
		<-ctx.Done()
		return frame.Frame{}, ctx.Err()
	}
	s.emitted.Add(1)
	return frame.New(image.NewRGBA(image.Rect(0, 0, 4, 4)), time.Time{}, 0), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCaptureAssignsSequenceAndTimestamp(t *testing.T) {
	src := &scriptedSource{limit: 2}
	buf := NewBuffer(16)
	w := NewCaptureWorker(src, buf, CaptureConfig{}, nil, zap.NewNop().Sugar())

	w.Start(context.Background())
	defer w.Stop()

	f1, err := buf.Pop(context.Background())
	require.NoError(t, err)
	f2, err := buf.Pop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
	assert.False(t, f1.Timestamp.IsZero(), "worker fills missing timestamps")
}

func TestCaptureRetriesWithBackoff(t *testing.T) {
	src := &scriptedSource{failures: 3, limit: 1}
	buf := NewBuffer(16)
	cfg := CaptureConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
	w := NewCaptureWorker(src, buf, cfg, nil, zap.NewNop().Sugar())

	w.Start(context.Background())
	defer w.Stop()

	f, err := buf.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq, "first delivered frame follows the retries")

	stats := w.Stats()
	assert.Equal(t, uint64(3), stats.Retries)
}

func TestCaptureStopJoins(t *testing.T) {
	src := &scriptedSource{}
	buf := NewBuffer(4)
	w := NewCaptureWorker(src, buf, CaptureConfig{}, nil, zap.NewNop().Sugar())

	w.Start(context.Background())
	waitFor(t, func() bool { return w.Stats().FramesCaptured > 0 })

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not join the capture loop")
	}

	// Stop is idempotent.
	w.Stop()
}

func TestCaptureStartTwiceIsNoop(t *testing.T) {
	src := &scriptedSource{limit: 2}
	buf := NewBuffer(4)
	w := NewCaptureWorker(src, buf, CaptureConfig{}, nil, zap.NewNop().Sugar())

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx) // second start must not spawn a second loop
	defer w.Stop()

	waitFor(t, func() bool { return buf.Pushed() >= 2 })

	f1, err := buf.Pop(ctx)
	require.NoError(t, err)
	f2, err := buf.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, f1.Seq+1, f2.Seq, "sequence numbers stay contiguous")
}
