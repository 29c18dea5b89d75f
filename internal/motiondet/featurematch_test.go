package motiondet

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
)

// marker paints a 3x3 block bright enough to register as a corner cluster;
// non-maximum suppression reduces each block to a single stable corner.
func marker(f frame.Frame, at image.Point, level uint8) {
	paintRect(f, image.Rect(at.X-1, at.Y-1, at.X+2, at.Y+2), level)
}

// staticMarkerPts scatter anchors across the frame; each gets a unique
// brightness so patch matching cannot confuse two anchors.
var staticMarkerPts = []image.Point{
	{X: 20, Y: 20}, {X: 70, Y: 20}, {X: 120, Y: 20}, {X: 170, Y: 20},
	{X: 20, Y: 100}, {X: 70, Y: 100}, {X: 120, Y: 100}, {X: 170, Y: 100},
	{X: 95, Y: 20}, {X: 45, Y: 100},
}

func sceneFrame(seq uint64, objectAt image.Point) frame.Frame {
	f := grayFrame(200, 120, 0, seq)
	for i, pt := range staticMarkerPts {
		marker(f, pt, uint8(60+5*i))
	}
	if objectAt.X != 0 {
		marker(f, objectAt, 200)
		marker(f, objectAt.Add(image.Pt(20, 0)), 240)
	}
	return f
}

func newFeatureMatchForTest(t *testing.T) Detector {
	t.Helper()
	cfg := DefaultConfig(FeatureMatch)
	cfg.MinArea = 50
	d, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return d
}

func TestFeatureMatchStaticSceneIsQuiet(t *testing.T) {
	d := newFeatureMatchForTest(t)

	_, err := d.Detect(sceneFrame(1, image.Point{}))
	require.NoError(t, err)

	set, err := d.Detect(sceneFrame(2, image.Point{}))
	require.NoError(t, err)
	assert.Empty(t, set.Detections)

	// A static camera estimates a near-identity transform.
	require.NotNil(t, set.Homography)
	x, y := set.Homography.Apply(100, 60)
	assert.InDelta(t, 100, x, 1)
	assert.InDelta(t, 60, y, 1)
}

func TestFeatureMatchDetectsIndependentMotion(t *testing.T) {
	d := newFeatureMatchForTest(t)

	_, err := d.Detect(sceneFrame(1, image.Pt(90, 60)))
	require.NoError(t, err)

	// The object pair moves 6 px right while the anchors hold still, so the
	// camera-motion fit stays near identity and the pair shows up as residual.
	set, err := d.Detect(sceneFrame(2, image.Pt(96, 60)))
	require.NoError(t, err)
	require.Len(t, set.Detections, 1)

	det := set.Detections[0]
	assert.Equal(t, detection.KindMotion, det.Kind)
	assert.True(t, det.Box.Overlaps(image.Rect(90, 54, 122, 66)),
		"detection covers the moved object pair, got %v", det.Box)

	vx, ok := det.GetMeta(detection.MetaVelocityX)
	require.True(t, ok)
	vy, _ := det.GetMeta(detection.MetaVelocityY)
	assert.InDelta(t, 6, vx, 1.5)
	assert.InDelta(t, 0, vy, 1.5)
}

func TestMedianTranslation(t *testing.T) {
	matches := []match{
		{from: image.Pt(10, 10), to: image.Pt(13, 11)},
		{from: image.Pt(50, 20), to: image.Pt(53, 21)},
		{from: image.Pt(90, 80), to: image.Pt(93, 81)},
	}
	h := medianTranslation(matches)
	x, y := h.Apply(0, 0)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 1.0, y)
}

func TestEstimateHomographyRecoversTranslation(t *testing.T) {
	// Ten exact correspondences under a pure translation; the projective fit
	// must reproduce it to numerical precision.
	pts := []image.Point{
		{X: 10, Y: 10}, {X: 50, Y: 12}, {X: 90, Y: 15}, {X: 130, Y: 18},
		{X: 12, Y: 60}, {X: 55, Y: 64}, {X: 95, Y: 70}, {X: 135, Y: 75},
		{X: 30, Y: 110}, {X: 100, Y: 115},
	}
	matches := make([]match, len(pts))
	for i, p := range pts {
		matches[i] = match{from: p, to: p.Add(image.Pt(7, -4))}
	}

	h := estimateHomography(matches)
	for _, p := range pts {
		x, y := h.Apply(float64(p.X), float64(p.Y))
		assert.InDelta(t, float64(p.X+7), x, 0.01)
		assert.InDelta(t, float64(p.Y-4), y, 0.01)
	}
}

func TestEstimateHomographyIsolatesMovingMinority(t *testing.T) {
	// Ten static anchors plus two points shifted 6 px right, all at raw pixel
	// scale. The fit must stay near identity so the residual check singles
	// out exactly the moving pair; a badly conditioned solve smears the error
	// across the static anchors instead.
	matches := make([]match, 0, len(staticMarkerPts)+2)
	for _, p := range staticMarkerPts {
		matches = append(matches, match{from: p, to: p})
	}
	moving := []image.Point{{X: 90, Y: 60}, {X: 110, Y: 60}}
	for _, p := range moving {
		matches = append(matches, match{from: p, to: p.Add(image.Pt(6, 0))})
	}

	h := estimateHomography(matches)
	for _, p := range staticMarkerPts {
		x, y := h.Apply(float64(p.X), float64(p.Y))
		assert.InDelta(t, float64(p.X), x, 1, "static anchor %v drifted", p)
		assert.InDelta(t, float64(p.Y), y, 1, "static anchor %v drifted", p)
	}
	for _, p := range moving {
		x, _ := h.Apply(float64(p.X), float64(p.Y))
		residual := float64(p.X+6) - x
		assert.Greater(t, residual, 3.0, "moving point %v should not be absorbed", p)
	}
}

func TestEstimateHomographyFallsBackBelowMinimum(t *testing.T) {
	matches := []match{
		{from: image.Pt(10, 10), to: image.Pt(12, 10)},
		{from: image.Pt(40, 40), to: image.Pt(42, 40)},
	}
	h := estimateHomography(matches)
	x, y := h.Apply(5, 5)
	assert.Equal(t, 7.0, x)
	assert.Equal(t, 5.0, y)
}

func TestFastCornersFindsIsolatedBlob(t *testing.T) {
	f := grayFrame(32, 32, 0, 1)
	marker(f, image.Pt(16, 16), 255)

	corners := fastCorners(f.Gray(), 20, 10)
	require.NotEmpty(t, corners)
	// All surviving corners sit on the blob.
	for _, c := range corners {
		assert.True(t, c.pt.In(image.Rect(14, 14, 19, 19)), "corner at %v", c.pt)
	}
}
