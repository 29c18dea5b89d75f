package framebuf

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skysweep/internal/frame"
)

func testFrame(seq uint64) frame.Frame {
	f := frame.New(image.NewRGBA(image.Rect(0, 0, 4, 4)), time.Unix(int64(seq), 0), 0)
	f.Seq = seq
	return f
}

func TestPushPopOrder(t *testing.T) {
	b := NewBuffer(3)
	defer b.Close()

	b.Push(testFrame(1))
	b.Push(testFrame(2))

	f, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	f, err = b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
}

func TestPushEvictsOldestWhenFull(t *testing.T) {
	b := NewBuffer(2)
	defer b.Close()

	b.Push(testFrame(1))
	b.Push(testFrame(2))
	b.Push(testFrame(3)) // evicts seq 1

	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, uint64(3), b.Pushed())

	f, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)

	f, err = b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Seq)
}

func TestPushNeverBlocks(t *testing.T) {
	b := NewBuffer(1)
	defer b.Close()

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 100; i++ {
			b.Push(testFrame(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked with a full buffer")
	}
	assert.Equal(t, uint64(99), b.Dropped())
}

func TestPopBlocksUntilPush(t *testing.T) {
	b := NewBuffer(2)
	defer b.Close()

	got := make(chan frame.Frame, 1)
	go func() {
		f, err := b.Pop(context.Background())
		if err == nil {
			got <- f
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Push(testFrame(9))

	select {
	case f := <-got:
		assert.Equal(t, uint64(9), f.Seq)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestPopContextCancel(t *testing.T) {
	b := NewBuffer(2)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPopCancelledBeforeCallSkipsBufferedFrames(t *testing.T) {
	b := NewBuffer(2)
	defer b.Close()

	b.Push(testFrame(1))

	// Cancellation that fired before the call must win over a frame that is
	// already waiting in the buffer.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, b.Len())
}

func TestCloseDrainsThenStops(t *testing.T) {
	b := NewBuffer(2)
	b.Push(testFrame(1))
	b.Close()

	// A buffered frame survives Close.
	f, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	_, err = b.Pop(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	// Pushes after Close are dropped.
	before := b.Dropped()
	b.Push(testFrame(2))
	assert.Equal(t, before+1, b.Dropped())
}
