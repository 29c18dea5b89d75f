package eventlog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"skysweep/internal/pipeline"
)

// Recorder drains a pipeline result channel into the store on its own
// goroutine so database writes never block the processing loop.
type Recorder struct {
	store       *Store
	results     <-chan *pipeline.FrameResult
	unsubscribe func()
	logger      *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder subscribes to the bus and returns a stopped recorder.
func NewRecorder(store *Store, bus *pipeline.EventBus, logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	results, unsubscribe := bus.SubscribeChannel(32)
	return &Recorder{
		store:       store,
		results:     results,
		unsubscribe: unsubscribe,
		logger:      logger.Named("eventlog"),
	}
}

// Start launches the recording loop.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop unsubscribes and waits for pending writes to finish.
func (r *Recorder) Stop() {
	r.unsubscribe()
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-r.results:
			if !ok {
				return
			}
			if err := r.store.SaveResult(result); err != nil {
				r.logger.Errorw("save result failed", "seq", result.Seq, "error", err)
			}
		}
	}
}
