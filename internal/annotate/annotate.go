// Package annotate renders detection overlays onto frames.
package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
)

const lineWidth = 2

var kindColors = map[detection.Kind]color.RGBA{
	detection.KindMotion:       {G: 255, A: 255},
	detection.KindColorTarget:  {B: 255, A: 255},
	detection.KindColorAnomaly: {R: 255, A: 255},
}

// Draw returns a copy of the frame with a box outline per detection.
// The detections must already be in the frame's coordinate space; boxes
// from a different space are clipped against the frame bounds. The input
// frame is never modified.
func Draw(f frame.Frame, s detection.Set) *image.RGBA {
	if f.Empty() {
		return nil
	}
	bounds := f.Image.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, f.Image, bounds.Min, draw.Src)

	for _, d := range s.Detections {
		c, ok := kindColors[d.Kind]
		if !ok {
			c = color.RGBA{R: 255, G: 255, A: 255}
		}
		drawBox(out, d.Box.Intersect(bounds), c)
	}
	return out
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	u := image.NewUniform(c)
	// Top, bottom, left, right edges.
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+lineWidth), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-lineWidth, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+lineWidth, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Max.X-lineWidth, r.Min.Y, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
}
