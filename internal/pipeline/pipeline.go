// Package pipeline wires frame capture, detection, fusion and post-processing
// into a single processing loop and publishes results on an event bus.
package pipeline

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skysweep/internal/annotate"
	"skysweep/internal/colordet"
	"skysweep/internal/detection"
	"skysweep/internal/frame"
	"skysweep/internal/framebuf"
	"skysweep/internal/fusion"
	"skysweep/internal/motiondet"
	"skysweep/internal/postproc"
	"skysweep/internal/rank"
)

// Pipeline pulls frames from its buffer, runs the enabled detectors in
// parallel, rescales their output into the reference coordinate space,
// fuses, post-processes and ranks the detections, then publishes a
// FrameResult per frame. A detector failure on one frame degrades that
// frame to an empty result rather than stopping the loop.
type Pipeline struct {
	cfg     Config
	buf     *framebuf.Buffer
	motion  motiondet.Detector
	color   colordet.Detector
	anomaly colordet.Detector
	norm    detection.Normalizer
	fuser   *fusion.Engine
	post    *postproc.Processor
	bus     *EventBus
	clk     clock.Clock
	logger  *zap.SugaredLogger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	statsMu sync.RWMutex
	stats   Stats
}

// New builds a pipeline from the config, constructing the enabled detectors.
func New(cfg Config, clk clock.Clock, logger *zap.SugaredLogger) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "pipeline config")
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.Named("pipeline")

	p := &Pipeline{
		cfg:    cfg,
		buf:    framebuf.NewBuffer(cfg.BufferCapacity),
		norm:   detection.NewNormalizer(cfg.ReferenceResolution),
		bus:    NewEventBus(),
		clk:    clk,
		logger: logger,
	}

	var err error
	if cfg.EnableMotion {
		if p.motion, err = motiondet.New(cfg.Motion, logger); err != nil {
			return nil, errors.Wrap(err, "motion detector")
		}
	}
	if cfg.EnableColor {
		if p.color, err = colordet.New(cfg.Color, logger); err != nil {
			return nil, errors.Wrap(err, "color detector")
		}
	}
	if cfg.EnableAnomaly {
		if p.anomaly, err = colordet.New(cfg.Anomaly, logger); err != nil {
			return nil, errors.Wrap(err, "anomaly detector")
		}
	}
	if p.fuser, err = fusion.New(cfg.FusionMode, cfg.IoUThreshold); err != nil {
		return nil, errors.Wrap(err, "fusion engine")
	}
	if p.post, err = postproc.New(cfg.Post); err != nil {
		return nil, errors.Wrap(err, "post-processor")
	}
	return p, nil
}

// Buffer exposes the frame queue so a capture worker can feed the pipeline.
func (p *Pipeline) Buffer() *framebuf.Buffer { return p.buf }

// Bus exposes the result bus for subscribers.
func (p *Pipeline) Bus() *EventBus { return p.bus }

// Start launches the processing loop.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Infow("pipeline started",
		"fusion_mode", p.cfg.FusionMode,
		"reference", p.cfg.ReferenceResolution.String())
}

// Stop halts the loop and waits for the in-flight frame to finish.
// The bus stays open so late subscribers can still drain.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.buf.Close()
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		f, err := p.buf.Pop(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, framebuf.ErrStopped) {
				p.logger.Errorw("frame pop failed", "error", err)
			}
			return
		}
		result := p.ProcessFrame(f)
		p.bus.Publish(result)
	}
}

// ProcessFrame runs one frame through the full detection chain. It never
// returns nil: malformed frames and detector failures yield a result with an
// empty detection set instead of stopping the loop.
func (p *Pipeline) ProcessFrame(f frame.Frame) *FrameResult {
	start := p.clk.Now()

	var fused detection.Set
	if f.Empty() {
		p.logger.Warnw("malformed frame, emitting empty result", "seq", f.Seq)
		fused = detection.NewSet(p.cfg.ReferenceResolution, f.Timestamp)
		p.recordFailure()
	} else {
		fused = p.detect(f)
	}

	fused = p.post.Process(fused)
	fused = rank.Select(fused, p.cfg.MaxDetections)

	result := &FrameResult{
		ID:         uuid.New(),
		Seq:        f.Seq,
		Timestamp:  f.Timestamp,
		Space:      p.cfg.ReferenceResolution,
		Detections: fused,
	}
	if p.cfg.AnnotateFrames && !f.Empty() {
		result.Annotated = annotate.Draw(f, fused)
	}

	result.Latency = p.clk.Since(start)
	result.OverBudget = p.cfg.LatencyBudget > 0 && result.Latency > p.cfg.LatencyBudget
	if result.OverBudget {
		p.logger.Warnw("frame over latency budget",
			"seq", f.Seq,
			"latency", result.Latency,
			"budget", p.cfg.LatencyBudget)
	}
	p.recordResult(result)
	return result
}

// detect runs the enabled detectors concurrently and fuses their output in
// the reference space. The color target and anomaly sets are concatenated
// before fusion; they share the color role against the motion set. A failure
// is contained to the detector it came from: the others' sets still fuse.
func (p *Pipeline) detect(f frame.Frame) detection.Set {
	var (
		motionSet  detection.Set
		colorSet   detection.Set
		anomalySet detection.Set
	)
	g := &errgroup.Group{}
	if p.motion != nil {
		g.Go(func() error {
			motionSet = p.runDetector("motion", p.motion.Detect, f)
			return nil
		})
	}
	if p.color != nil {
		g.Go(func() error {
			colorSet = p.runDetector("color target", p.color.Detect, f)
			return nil
		})
	}
	if p.anomaly != nil {
		g.Go(func() error {
			anomalySet = p.runDetector("color anomaly", p.anomaly.Detect, f)
			return nil
		})
	}
	g.Wait()

	ref := p.cfg.ReferenceResolution
	if motionSet.Space == (frame.Resolution{}) {
		motionSet = detection.NewSet(ref, f.Timestamp)
	}
	if colorSet.Space == (frame.Resolution{}) {
		colorSet = detection.NewSet(ref, f.Timestamp)
	}
	colorSet.Detections = append(colorSet.Detections, anomalySet.Detections...)

	fused, err := p.fuser.Fuse(motionSet, colorSet)
	if err != nil {
		p.logger.Errorw("fusion failed, emitting empty result",
			"seq", f.Seq, "error", err)
		p.recordFailure()
		return detection.NewSet(ref, f.Timestamp)
	}
	return fused
}

// runDetector invokes one detector and normalizes its output. An error, or a
// panic out of the detector, degrades that detector's contribution to an
// empty set with a logged warning.
func (p *Pipeline) runDetector(name string, detect func(frame.Frame) (detection.Set, error), f frame.Frame) (out detection.Set) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("detector panicked, emitting empty set",
				"detector", name, "seq", f.Seq, "panic", r)
			out = detection.NewSet(p.cfg.ReferenceResolution, f.Timestamp)
			p.recordFailure()
		}
	}()
	s, err := detect(f)
	if err != nil {
		p.logger.Warnw("detector failed, emitting empty set",
			"detector", name, "seq", f.Seq, "error", err)
		p.recordFailure()
		return detection.NewSet(p.cfg.ReferenceResolution, f.Timestamp)
	}
	return p.norm.Normalize(s)
}

func (p *Pipeline) recordResult(r *FrameResult) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.FramesProcessed++
	p.stats.DetectionsTotal += uint64(r.Detections.Len())
	if r.OverBudget {
		p.stats.OverBudgetFrames++
	}
	ms := float64(r.Latency.Microseconds()) / 1000
	if p.stats.FramesProcessed == 1 {
		p.stats.AvgLatencyMs = ms
	} else {
		p.stats.AvgLatencyMs = (p.stats.AvgLatencyMs + ms) / 2
	}
	p.stats.LastFrameSeq = r.Seq
}

func (p *Pipeline) recordFailure() {
	p.statsMu.Lock()
	p.stats.FramesFailed++
	p.statsMu.Unlock()
}

// GetStats returns a copy of the pipeline counters.
func (p *Pipeline) GetStats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}
