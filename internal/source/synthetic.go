// Package source provides frame sources for the capture worker.
package source

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/benbjohnson/clock"

	"skysweep/internal/frame"
	"skysweep/internal/framebuf"
)

// Synthetic generates frames with a colored square orbiting a gray
// background. It exists for demos and end-to-end tests where no real
// capture device is available.
type Synthetic struct {
	res      frame.Resolution
	interval time.Duration
	clk      clock.Clock

	squareSize int
	squareCol  color.RGBA
	step       int
	tick       int
}

// NewSynthetic creates a generator emitting at the given frame rate.
func NewSynthetic(res frame.Resolution, fps int, clk clock.Clock) *Synthetic {
	if fps <= 0 {
		fps = 15
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Synthetic{
		res:        res,
		interval:   time.Second / time.Duration(fps),
		clk:        clk,
		squareSize: res.Height / 6,
		squareCol:  color.RGBA{R: 220, G: 40, B: 40, A: 255},
		step:       res.Width / 50,
	}
}

// Next paces itself to the configured rate and returns the next frame.
func (s *Synthetic) Next(ctx context.Context) (frame.Frame, error) {
	t := s.clk.Timer(s.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	case <-t.C:
	}

	img := image.NewRGBA(s.res.Bounds())
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 96, G: 96, B: 96, A: 255}), image.Point{}, draw.Src)

	// The square sweeps left to right and wraps.
	travel := s.res.Width - s.squareSize
	x := (s.tick * s.step) % travel
	y := (s.res.Height - s.squareSize) / 2
	sq := image.Rect(x, y, x+s.squareSize, y+s.squareSize)
	draw.Draw(img, sq, image.NewUniform(s.squareCol), image.Point{}, draw.Src)
	s.tick++

	return frame.Frame{
		Image:      img,
		Timestamp:  s.clk.Now(),
		Resolution: s.res,
	}, nil
}

var _ framebuf.FrameSource = (*Synthetic)(nil)
