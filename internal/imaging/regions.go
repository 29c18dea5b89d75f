package imaging

import "image"

// Region is a connected component extracted from a mask.
type Region struct {
	Box      image.Rectangle
	Area     int // number of set pixels, not bounding box area
	Centroid image.Point
	Contour  []image.Point
}

// FindRegions extracts 8-connected components from the mask. Regions are
// returned in the order their first pixel is encountered scanning
// top-to-bottom, left-to-right, which keeps the output deterministic for a
// given mask. Each region carries its outer boundary traced from that first
// pixel.
func FindRegions(m *Mask) []Region {
	seen := make([]bool, len(m.Pix))
	var regions []Region
	var queue []image.Point

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			idx := y*m.Width + x
			if seen[idx] || m.Pix[idx] == 0 {
				continue
			}
			// Flood fill the component to collect area, bounds and centroid.
			seen[idx] = true
			queue = append(queue[:0], image.Pt(x, y))
			x0, y0, x1, y1 := x, y, x, y
			area := 0
			sumX, sumY := 0, 0
			for len(queue) > 0 {
				pt := queue[0]
				queue = queue[1:]
				area++
				sumX += pt.X
				sumY += pt.Y
				if pt.X < x0 {
					x0 = pt.X
				}
				if pt.X > x1 {
					x1 = pt.X
				}
				if pt.Y < y0 {
					y0 = pt.Y
				}
				if pt.Y > y1 {
					y1 = pt.Y
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := pt.X+dx, pt.Y+dy
						if nx < 0 || ny < 0 || nx >= m.Width || ny >= m.Height {
							continue
						}
						nidx := ny*m.Width + nx
						if seen[nidx] || m.Pix[nidx] == 0 {
							continue
						}
						seen[nidx] = true
						queue = append(queue, image.Pt(nx, ny))
					}
				}
			}
			regions = append(regions, Region{
				Box:      image.Rect(x0, y0, x1+1, y1+1),
				Area:     area,
				Centroid: image.Pt(sumX/area, sumY/area),
				Contour:  traceBoundary(m, image.Pt(x, y)),
			})
		}
	}
	return regions
}

// mooreOffsets is the 8-neighborhood in clockwise order starting from west.
var mooreOffsets = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// traceBoundary follows the outer contour of the component containing start
// using Moore-neighbor tracing. start must be the component's first pixel in
// raster order, which guarantees the pixel to its west is background.
func traceBoundary(m *Mask, start image.Point) []image.Point {
	contour := []image.Point{start}
	cur := start
	// Entered from the west.
	dir := 0
	for {
		found := false
		for i := 0; i < 8; i++ {
			d := (dir + 1 + i) % 8
			n := cur.Add(mooreOffsets[d])
			if m.Get(n.X, n.Y) != 0 {
				cur = n
				// Back up to the direction we came from.
				dir = (d + 4) % 8
				found = true
				break
			}
		}
		if !found {
			// Isolated pixel.
			return contour
		}
		if cur == start {
			return contour
		}
		contour = append(contour, cur)
		if len(contour) > 4*(m.Width+m.Height)+8 {
			// Degenerate trace guard.
			return contour
		}
	}
}
