package frame

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Resolution identifies the coordinate space a frame or detection set is
// expressed in. Two resolutions are the same space iff they are equal.
type Resolution struct {
	Width  int
	Height int
}

// Bounds returns the pixel rectangle covered by the resolution.
func (r Resolution) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// ScaleTo returns the per-axis factors that map coordinates in r to
// coordinates in target.
func (r Resolution) ScaleTo(target Resolution) (sx, sy float64) {
	if r.Width == 0 || r.Height == 0 {
		return 1, 1
	}
	return float64(target.Width) / float64(r.Width), float64(target.Height) / float64(r.Height)
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Frame is a captured video frame. The pixel buffer is treated as immutable
// once the frame leaves the capture worker; stages that need to modify pixels
// work on copies.
type Frame struct {
	Image      *image.RGBA
	Timestamp  time.Time
	Seq        uint64
	Resolution Resolution
}

// New wraps an image into a Frame, converting to RGBA if necessary.
func New(img image.Image, ts time.Time, seq uint64) Frame {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Frame{
		Image:      rgba,
		Timestamp:  ts,
		Seq:        seq,
		Resolution: Resolution{Width: rgba.Bounds().Dx(), Height: rgba.Bounds().Dy()},
	}
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return f.Image == nil || f.Resolution.Width == 0 || f.Resolution.Height == 0
}

// Downsample returns a copy of the frame scaled to the target resolution.
// If the frame is already at the target resolution the original image is
// shared, since it is never written after capture.
func (f Frame) Downsample(target Resolution) Frame {
	if f.Resolution == target || f.Empty() {
		out := f
		out.Resolution = f.Resolution
		return out
	}
	dst := image.NewRGBA(target.Bounds())
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), xdraw.Src, nil)
	return Frame{Image: dst, Timestamp: f.Timestamp, Seq: f.Seq, Resolution: target}
}

// Gray returns a grayscale copy of the frame using the BT.601 luma weights.
func (f Frame) Gray() *image.Gray {
	b := f.Image.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := f.Image.Pix[y*f.Image.Stride : y*f.Image.Stride+b.Dx()*4]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			r := uint32(src[x*4])
			g := uint32(src[x*4+1])
			bl := uint32(src[x*4+2])
			row[x] = uint8((299*r + 587*g + 114*bl) / 1000)
		}
	}
	return dst
}
