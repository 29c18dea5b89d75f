package colordet

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skysweep/internal/detection"
)

func newRareDetector(t *testing.T) Detector {
	t.Helper()
	d, err := New(DefaultConfig(RareColor), testLogger())
	require.NoError(t, err)
	return d
}

func TestRareColorFlagsOutlierPatch(t *testing.T) {
	d := newRareDetector(t)

	magenta := color.RGBA{R: 220, G: 40, B: 200, A: 255}
	f := colorFrame(t, 64, 64, sceneGray, 1)
	paintRect(f, image.Rect(20, 20, 30, 30), magenta)

	set, err := d.Detect(f)
	require.NoError(t, err)
	require.Len(t, set.Detections, 1)

	det := set.Detections[0]
	assert.Equal(t, detection.KindColorAnomaly, det.Kind)
	assert.Equal(t, image.Rect(20, 20, 30, 30), det.Box)
	assert.Equal(t, 100, det.Area)

	// 100 of 4096 pixels fall in the patch bin.
	rarity, ok := det.GetMeta(detection.MetaRarity)
	require.True(t, ok)
	assert.InDelta(t, 1-100.0/4096.0, rarity, 1e-9)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)

	require.NotNil(t, det.Color)
	assert.Equal(t, magenta, *det.Color)
}

func TestRareColorFlagsEachRarePatch(t *testing.T) {
	d := newRareDetector(t)

	f := colorFrame(t, 64, 64, sceneGray, 1)
	paintRect(f, image.Rect(5, 5, 13, 13), color.RGBA{R: 220, G: 40, B: 200, A: 255})
	paintRect(f, image.Rect(40, 8, 48, 16), color.RGBA{R: 40, G: 220, B: 60, A: 255})
	paintRect(f, image.Rect(20, 45, 28, 53), color.RGBA{R: 250, G: 200, B: 40, A: 255})

	set, err := d.Detect(f)
	require.NoError(t, err)
	require.Len(t, set.Detections, 3)
	for _, det := range set.Detections {
		assert.Equal(t, detection.KindColorAnomaly, det.Kind)
		assert.Equal(t, 64, det.Area)
	}
}

func TestRareColorQuietOnUniformFrame(t *testing.T) {
	d := newRareDetector(t)

	set, err := d.Detect(colorFrame(t, 64, 64, sceneGray, 1))
	require.NoError(t, err)
	assert.Empty(t, set.Detections)
}

func TestRareColorNeverFlagsZeroBin(t *testing.T) {
	d := newRareDetector(t)

	// All pixels quantize to bin zero; the dark-background bin is exempt
	// from rarity marking no matter its count.
	set, err := d.Detect(colorFrame(t, 64, 64, color.RGBA{A: 255}, 1))
	require.NoError(t, err)
	assert.Empty(t, set.Detections)

	// A rare patch on a dominant zero bin is still flagged.
	f := colorFrame(t, 64, 64, color.RGBA{A: 255}, 2)
	paintRect(f, image.Rect(10, 10, 20, 20), color.RGBA{R: 200, G: 120, B: 60, A: 255})
	set, err = d.Detect(f)
	require.NoError(t, err)
	require.Len(t, set.Detections, 1)
	assert.Equal(t, detection.KindColorAnomaly, set.Detections[0].Kind)
}
