package imaging

// RGBToHSV converts 8-bit RGB to HSV on the compact byte scale commonly used
// by vision pipelines: hue in [0,180) (half-degrees), saturation and value in
// [0,255]. Hue is circular; callers comparing hues must handle wrap-around.
func RGBToHSV(r, g, b uint8) (h, s, v uint8) {
	rf, gf, bf := int(r), int(g), int(b)
	maxc := rf
	if gf > maxc {
		maxc = gf
	}
	if bf > maxc {
		maxc = bf
	}
	minc := rf
	if gf < minc {
		minc = gf
	}
	if bf < minc {
		minc = bf
	}
	v = uint8(maxc)
	delta := maxc - minc
	if maxc == 0 {
		return 0, 0, 0
	}
	s = uint8(255 * delta / maxc)
	if delta == 0 {
		return 0, s, v
	}
	var hue float64
	switch maxc {
	case rf:
		hue = 60 * float64(gf-bf) / float64(delta)
	case gf:
		hue = 120 + 60*float64(bf-rf)/float64(delta)
	default:
		hue = 240 + 60*float64(rf-gf)/float64(delta)
	}
	if hue < 0 {
		hue += 360
	}
	h = uint8(hue / 2)
	if h >= 180 {
		h = 0
	}
	return h, s, v
}

// QuantizeRGB reduces each channel to bits of precision and packs the result
// into a single histogram bin index. bits must be in [1, 8].
func QuantizeRGB(r, g, b uint8, bits uint) int {
	shift := 8 - bits
	qr := int(r >> shift)
	qg := int(g >> shift)
	qb := int(b >> shift)
	levels := 1 << bits
	return (qr*levels+qg)*levels + qb
}
