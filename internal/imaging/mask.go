package imaging

// Mask is a binary image used as the intermediate representation between
// thresholding and region extraction. Pix holds one byte per pixel, zero or
// one, in row-major order.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask returns an all-zero mask of the given size.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// Get returns the mask value at (x, y). Out-of-bounds reads return zero so
// neighborhood loops do not need edge special-casing.
func (m *Mask) Get(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set writes the mask value at (x, y).
func (m *Mask) Set(x, y int, v uint8) {
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Erode3x3 returns the erosion of the mask with a 3x3 box structuring element.
func (m *Mask) Erode3x3() *Mask {
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Get(x, y) == 0 {
				continue
			}
			keep := true
			for dy := -1; dy <= 1 && keep; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if m.Get(x+dx, y+dy) == 0 {
						keep = false
						break
					}
				}
			}
			if keep {
				out.Set(x, y, 1)
			}
		}
	}
	return out
}

// Dilate3x3 returns the dilation of the mask with a 3x3 box structuring element.
func (m *Mask) Dilate3x3() *Mask {
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Get(x, y) == 0 {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= m.Height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= m.Width {
						continue
					}
					out.Set(xx, yy, 1)
				}
			}
		}
	}
	return out
}

// Open removes speckle noise: erosion followed by dilation.
func (m *Mask) Open() *Mask {
	return m.Erode3x3().Dilate3x3()
}

// Close fills small holes: dilation followed by erosion.
func (m *Mask) Close() *Mask {
	return m.Dilate3x3().Erode3x3()
}

// OpenClose applies the open-then-close cleanup both color detectors use
// before boundary extraction.
func (m *Mask) OpenClose() *Mask {
	return m.Open().Close()
}
