package postproc

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skysweep/internal/detection"
	"skysweep/internal/frame"
)

var space = frame.Resolution{Width: 640, Height: 480}

func det(box image.Rectangle, conf float64) detection.Detection {
	return detection.Detection{
		Box:        box,
		Centroid:   box.Min.Add(box.Max).Div(2),
		Area:       box.Dx() * box.Dy(),
		Confidence: conf,
		Kind:       detection.KindMotion,
	}
}

func setOf(ds ...detection.Detection) detection.Set {
	s := detection.NewSet(space, time.Unix(100, 0))
	s.Detections = append(s.Detections, ds...)
	return s
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"all disabled", Config{}, false},
		{"clustering without window", Config{EnableClustering: true}, true},
		{"bad aspect bounds", Config{EnableAspectRatioFilter: true, MinAspectRatio: 5, MaxAspectRatio: 1}, true},
		{"vote threshold above window", Config{EnableTemporalVoting: true, WindowSize: 3, VoteThreshold: 4, VoteIoU: 0.3}, true},
		{"vote iou out of range", Config{EnableTemporalVoting: true, WindowSize: 5, VoteThreshold: 3, VoteIoU: 1.5}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p, err := New(Config{EnableClustering: true, EnableTemporalVoting: true})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ClusterWindow, p.cfg.ClusterWindow)
	assert.Equal(t, DefaultConfig().WindowSize, p.cfg.WindowSize)
	assert.Equal(t, DefaultConfig().VoteThreshold, p.cfg.VoteThreshold)
}

func TestClusterMergesNearbyDetections(t *testing.T) {
	p, err := New(Config{EnableClustering: true, ClusterWindow: 40})
	require.NoError(t, err)

	// 10px gap, closed by the 20px grow on each box.
	a := det(image.Rect(10, 10, 30, 30), 0.5)
	a.SetMeta(detection.MetaVelocityX, 2)
	b := det(image.Rect(40, 10, 60, 30), 0.8)
	far := det(image.Rect(300, 300, 320, 320), 0.4)

	out := p.Process(setOf(a, b, far))
	require.Len(t, out.Detections, 2)

	merged := out.Detections[0]
	assert.Equal(t, image.Rect(10, 10, 60, 30), merged.Box)
	assert.Equal(t, a.Area+b.Area, merged.Area)
	assert.Equal(t, 0.8, merged.Confidence)
	assert.Nil(t, merged.Contour)
	vx, ok := merged.GetMeta(detection.MetaVelocityX)
	require.True(t, ok)
	assert.Equal(t, 2.0, vx)

	assert.Equal(t, far.Box, out.Detections[1].Box)
}

func TestClusterMergesTransitively(t *testing.T) {
	p, err := New(Config{EnableClustering: true, ClusterWindow: 40})
	require.NoError(t, err)

	// a touches b, b touches c, but a and c are more than a window apart.
	a := det(image.Rect(0, 0, 20, 20), 0.5)
	b := det(image.Rect(50, 0, 70, 20), 0.5)
	c := det(image.Rect(100, 0, 120, 20), 0.5)

	out := p.Process(setOf(a, b, c))
	require.Len(t, out.Detections, 1)
	assert.Equal(t, image.Rect(0, 0, 120, 20), out.Detections[0].Box)
}

func TestAspectRatioFilter(t *testing.T) {
	p, err := New(Config{EnableAspectRatioFilter: true, MinAspectRatio: 0.2, MaxAspectRatio: 5})
	require.NoError(t, err)

	square := det(image.Rect(0, 0, 20, 20), 0.5)
	wide := det(image.Rect(0, 100, 120, 110), 0.5)  // ratio 12
	tall := det(image.Rect(200, 0, 210, 120), 0.5)  // ratio 1/12
	okWide := det(image.Rect(0, 200, 80, 220), 0.5) // ratio 4

	out := p.Process(setOf(square, wide, tall, okWide))
	require.Len(t, out.Detections, 2)
	assert.Equal(t, square.Box, out.Detections[0].Box)
	assert.Equal(t, okWide.Box, out.Detections[1].Box)
}

func TestTemporalVotingConfirms(t *testing.T) {
	p, err := New(Config{EnableTemporalVoting: true, WindowSize: 5, VoteThreshold: 3, VoteIoU: 0.3})
	require.NoError(t, err)

	box := image.Rect(10, 10, 50, 50)

	// Frame 1: one vote, confidence scaled to 1/3.
	out := p.Process(setOf(det(box, 0.9)))
	require.Len(t, out.Detections, 1)
	votes, ok := out.Detections[0].GetMeta(detection.MetaVotes)
	require.True(t, ok)
	assert.Equal(t, 1.0, votes)
	assert.InDelta(t, 0.3, out.Detections[0].Confidence, 1e-9)

	// Frame 2: two votes.
	out = p.Process(setOf(det(box, 0.9)))
	require.Len(t, out.Detections, 1)
	assert.InDelta(t, 0.6, out.Detections[0].Confidence, 1e-9)

	// Frame 3: confirmed, confidence untouched.
	out = p.Process(setOf(det(box, 0.9)))
	require.Len(t, out.Detections, 1)
	assert.Equal(t, 0.9, out.Detections[0].Confidence)
	votes, _ = out.Detections[0].GetMeta(detection.MetaVotes)
	assert.Equal(t, 3.0, votes)
}

func TestStrictVotingWithholdsUnconfirmed(t *testing.T) {
	p, err := New(Config{
		EnableTemporalVoting: true,
		WindowSize:           5, VoteThreshold: 3, VoteIoU: 0.3,
		StrictVoting: true,
	})
	require.NoError(t, err)

	box := image.Rect(10, 10, 50, 50)
	assert.Empty(t, p.Process(setOf(det(box, 0.9))).Detections)
	assert.Empty(t, p.Process(setOf(det(box, 0.9))).Detections)

	out := p.Process(setOf(det(box, 0.9)))
	require.Len(t, out.Detections, 1)
	assert.Equal(t, 0.9, out.Detections[0].Confidence)
}

func TestVotingWindowEvictsOldFrames(t *testing.T) {
	p, err := New(Config{EnableTemporalVoting: true, WindowSize: 2, VoteThreshold: 2, VoteIoU: 0.3})
	require.NoError(t, err)

	box := image.Rect(10, 10, 50, 50)
	p.Process(setOf(det(box, 0.9)))
	p.Process(setOf(det(box, 0.9)))

	// Two empty frames push the earlier sightings out of the window.
	p.Process(setOf())
	p.Process(setOf())

	out := p.Process(setOf(det(box, 0.9)))
	require.Len(t, out.Detections, 1)
	votes, _ := out.Detections[0].GetMeta(detection.MetaVotes)
	assert.Equal(t, 1.0, votes)
}

func TestProcessDoesNotMutateInputMetadata(t *testing.T) {
	p, err := New(Config{EnableTemporalVoting: true, WindowSize: 5, VoteThreshold: 3, VoteIoU: 0.3})
	require.NoError(t, err)

	d := det(image.Rect(10, 10, 50, 50), 0.9)
	d.SetMeta(detection.MetaVelocityX, 2.5)
	in := setOf(d)

	out := p.Process(in)
	require.Len(t, out.Detections, 1)
	_, hasVotes := out.Detections[0].GetMeta(detection.MetaVotes)
	assert.True(t, hasVotes)

	// The caller's detection keeps its original map untouched.
	_, leaked := in.Detections[0].GetMeta(detection.MetaVotes)
	assert.False(t, leaked)
	vx, _ := in.Detections[0].GetMeta(detection.MetaVelocityX)
	assert.Equal(t, 2.5, vx)
}

func TestClusterDoesNotMutateInputMetadata(t *testing.T) {
	p, err := New(Config{EnableClustering: true, ClusterWindow: 40})
	require.NoError(t, err)

	a := det(image.Rect(10, 10, 30, 30), 0.5)
	a.SetMeta(detection.MetaRarity, 0.1)
	b := det(image.Rect(40, 10, 60, 30), 0.8)
	b.SetMeta(detection.MetaVelocityX, 7)
	in := setOf(a, b)

	out := p.Process(in)
	require.Len(t, out.Detections, 1)
	vx, ok := out.Detections[0].GetMeta(detection.MetaVelocityX)
	require.True(t, ok)
	assert.Equal(t, 7.0, vx)

	// Merging b's metadata into the representative must not write into a.
	_, leaked := in.Detections[0].GetMeta(detection.MetaVelocityX)
	assert.False(t, leaked)
}

func TestResetClearsHistory(t *testing.T) {
	p, err := New(Config{EnableTemporalVoting: true, WindowSize: 5, VoteThreshold: 2, VoteIoU: 0.3})
	require.NoError(t, err)

	box := image.Rect(10, 10, 50, 50)
	p.Process(setOf(det(box, 0.9)))
	p.Reset()

	out := p.Process(setOf(det(box, 0.9)))
	require.Len(t, out.Detections, 1)
	votes, _ := out.Detections[0].GetMeta(detection.MetaVotes)
	assert.Equal(t, 1.0, votes)
}

func TestStagesRunInOrder(t *testing.T) {
	p, err := New(Config{
		EnableClustering:        true,
		ClusterWindow:           40,
		EnableAspectRatioFilter: true,
		MinAspectRatio:          0.2, MaxAspectRatio: 5,
	})
	require.NoError(t, err)

	// Individually each sliver fails the aspect filter, but clustering first
	// merges them into a compliant box.
	left := det(image.Rect(10, 10, 14, 50), 0.5)
	right := det(image.Rect(20, 10, 24, 50), 0.5)
	out := p.Process(setOf(left, right))
	require.Len(t, out.Detections, 1)
	assert.Equal(t, image.Rect(10, 10, 24, 50), out.Detections[0].Box)
}
