package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"skysweep/internal/colordet"
	"skysweep/internal/eventlog"
	"skysweep/internal/frame"
	"skysweep/internal/framebuf"
	"skysweep/internal/fusion"
	"skysweep/internal/motiondet"
	"skysweep/internal/pipeline"
	"skysweep/internal/source"
	"skysweep/internal/ws"
)

func main() {
	var (
		addrF      = flag.String("addr", ":8080", "HTTP listen address for the WebSocket endpoint")
		dbF        = flag.String("db", "skysweep.db", "SQLite event log path (empty disables persistence)")
		widthF     = flag.Int("width", 1280, "Reference frame width")
		heightF    = flag.Int("height", 720, "Reference frame height")
		fpsF       = flag.Int("fps", 15, "Synthetic source frame rate")
		motionF    = flag.String("motion", "frame_diff", "Motion algorithm (frame_diff, mog2, knn, optical_flow, feature_match)")
		fusionF    = flag.String("fusion", "union", "Fusion mode (union, intersection, color_priority, motion_priority)")
		budgetF    = flag.Duration("budget", 100*time.Millisecond, "Per-frame latency budget")
		maxRenderF = flag.Int("max-render", 25, "Maximum detections rendered per frame (0 = unlimited)")
		annotateF  = flag.Bool("annotate", true, "Draw detection boxes on streamed frames")
		dbgF       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *dbgF {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	res := frame.Resolution{Width: *widthF, Height: *heightF}
	clk := clock.New()

	cfg := pipeline.DefaultConfig()
	cfg.ReferenceResolution = res
	cfg.Motion = motiondet.DefaultConfig(motiondet.Algorithm(*motionF))
	cfg.Color = colordet.DefaultConfig(colordet.HSVRange)
	cfg.Color.TargetColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	cfg.EnableAnomaly = true
	cfg.FusionMode = fusion.Mode(*fusionF)
	cfg.LatencyBudget = *budgetF
	cfg.MaxDetections = *maxRenderF
	cfg.AnnotateFrames = *annotateF
	cfg.Post.EnableClustering = true
	cfg.Post.EnableTemporalVoting = true

	pipe, err := pipeline.New(cfg, clk, log)
	if err != nil {
		log.Fatalw("create pipeline", "error", err)
	}

	src := source.NewSynthetic(res, *fpsF, clk)
	capture := framebuf.NewCaptureWorker(src, pipe.Buffer(), framebuf.DefaultCaptureConfig(), clk, log)

	hub := ws.NewHub(log)
	unsubWS := pipe.Bus().Subscribe(ws.NewResultBroadcaster(hub))
	defer unsubWS()

	var recorder *eventlog.Recorder
	if *dbF != "" {
		store, err := eventlog.Open(*dbF)
		if err != nil {
			log.Fatalw("open event log", "error", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			log.Fatalw("migrate event log", "error", err)
		}
		recorder = eventlog.NewRecorder(store, pipe.Bus(), log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe.Start(ctx)
	capture.Start(ctx)
	if recorder != nil {
		recorder.Start(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/detections", ws.NewHandler(hub, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := pipe.GetStats()
		fmt.Fprintf(w, "frames=%d detections=%d avg_latency_ms=%.2f over_budget=%d dropped=%d\n",
			stats.FramesProcessed, stats.DetectionsTotal, stats.AvgLatencyMs,
			stats.OverBudgetFrames, pipe.Buffer().Dropped())
	})
	server := &http.Server{Addr: *addrF, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Infow("http server listening", "addr", *addrF)
		errc <- server.ListenAndServe()
	}()

	log.Infow("skysweep running",
		"resolution", res.String(),
		"motion", *motionF,
		"fusion", *fusionF)

	reason := <-errc
	log.Infow("shutting down", "reason", reason)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	capture.Stop()
	pipe.Stop()
	if recorder != nil {
		recorder.Stop()
	}
	hub.Close()
	log.Infow("stopped")
}
