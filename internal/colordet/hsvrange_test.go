package colordet

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skysweep/internal/detection"
)

var (
	targetRed = color.RGBA{R: 255, A: 255}
	sceneGray = color.RGBA{R: 96, G: 96, B: 96, A: 255}
)

func newRedDetector(t *testing.T) *hsvRange {
	t.Helper()
	cfg := DefaultConfig(HSVRange)
	cfg.TargetColor = targetRed
	d, err := New(cfg, testLogger())
	require.NoError(t, err)
	return d.(*hsvRange)
}

func TestSplitHueRange(t *testing.T) {
	cases := []struct {
		name           string
		target, spread uint8
		want           []hueRange
	}{
		{"interior", 90, 15, []hueRange{{75, 105}}},
		{"wraps below zero", 0, 15, []hueRange{{165, 179}, {0, 15}}},
		{"wraps above max", 170, 15, []hueRange{{155, 179}, {0, 5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, splitHueRange(tc.target, tc.spread))
		})
	}
}

func TestHSVRangeDetectsTargetBlob(t *testing.T) {
	d := newRedDetector(t)

	f := colorFrame(t, 100, 60, sceneGray, 1)
	paintRect(f, image.Rect(20, 10, 40, 30), color.RGBA{R: 220, G: 40, B: 40, A: 255})

	set, err := d.Detect(f)
	require.NoError(t, err)
	require.Len(t, set.Detections, 1)

	det := set.Detections[0]
	assert.Equal(t, detection.KindColorTarget, det.Kind)
	assert.Equal(t, image.Rect(20, 10, 40, 30), det.Box)
	assert.Equal(t, 400, det.Area)
	assert.True(t, det.Centroid.In(det.Box))
	// A large solid blob saturates both the size and solidity terms.
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
	require.NotNil(t, det.Color)
	assert.Equal(t, targetRed, *det.Color)
	assert.NotEmpty(t, det.Contour)
}

func TestHSVRangeIgnoresSmallBlobs(t *testing.T) {
	d := newRedDetector(t)

	f := colorFrame(t, 100, 60, sceneGray, 1)
	paintRect(f, image.Rect(50, 20, 53, 23), color.RGBA{R: 220, G: 40, B: 40, A: 255})

	set, err := d.Detect(f)
	require.NoError(t, err)
	assert.Empty(t, set.Detections)
}

func TestHSVRangeQuietOnNeutralScene(t *testing.T) {
	d := newRedDetector(t)

	set, err := d.Detect(colorFrame(t, 100, 60, sceneGray, 1))
	require.NoError(t, err)
	assert.Empty(t, set.Detections)
}

func TestHSVRangeHueWrap(t *testing.T) {
	d := newRedDetector(t)

	// Target hue 0 with spread 15 covers [165,179] and [0,15] on the
	// circular scale.
	assert.True(t, d.Matches(255, 0, 51), "hue 174 should wrap into range")
	assert.True(t, d.Matches(255, 51, 0), "hue 6 should match directly")
	assert.False(t, d.Matches(0, 255, 255), "cyan at hue 90 is far off")
	assert.False(t, d.Matches(0, 255, 0), "green is far off hue")
	assert.False(t, d.Matches(200, 150, 150), "washed-out pink fails saturation")
}
