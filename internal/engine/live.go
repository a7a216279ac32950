package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/internal/writers"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// feedItem is one value received from the feed.
type feedItem struct {
	event types.PriceEvent
	err   error
}

// LiveEngine runs a strategy on a live feed. An ingestion worker moves feed
// values into a buffered channel; the goroutine calling Run is the only one
// touching the aggregator, OMS and ledger. Steps are driven by polling the
// clock, so bars close and the session advances without new data.
//
// A LiveEngine runs once.
type LiveEngine struct {
	cfg   Config
	core  *Core
	clock Clock
	log   *logger.Logger

	tickInterval    time.Duration
	closeGrace      time.Duration
	eventBuffer     int
	shutdownTimeout time.Duration

	mu       sync.Mutex
	started  bool
	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLiveEngine validates cfg and builds the engine. An empty run id is
// generated from the clock. Without a sink in deps, records are written in
// real time to {output.path}/{date}/run_N/ and the folder moves with the
// trading day.
func NewLiveEngine(cfg Config, deps Dependencies) (*LiveEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.RunID == "" {
		cfg.RunID = NewRunID(LiveRunPrefix, cfg.Strategy.Name, cfg.Instruments, clock.Now())
	}

	if deps.Sink == nil && cfg.Output.Path != "" {
		location, err := time.LoadLocation(cfg.Session.Timezone)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid session timezone %q", cfg.Session.Timezone)
		}

		if deps.Runs == nil {
			deps.Runs = session.NewRunManager(cfg.RunID, location, log)
		}

		deps.Sink = writers.NewParquetSink("", true, log)
	}

	core, err := NewCore(cfg, deps)
	if err != nil {
		return nil, err
	}

	core.SetSnapshotInterval(cfg.Live.SnapshotInterval)

	return &LiveEngine{
		cfg:             cfg,
		core:            core,
		clock:           clock,
		log:             log,
		tickInterval:    positiveOr(cfg.Live.TickInterval, DefaultTickInterval),
		closeGrace:      max(cfg.Live.CloseGrace, 0),
		eventBuffer:     positiveOr(cfg.Live.EventBuffer, DefaultEventBuffer),
		shutdownTimeout: positiveOr(cfg.Live.ShutdownTimeout, DefaultShutdownTimeout),
		mu:              sync.Mutex{},
		started:         false,
		running:         atomic.Bool{},
		stopCh:          make(chan struct{}),
		stopOnce:        sync.Once{},
		done:            make(chan struct{}),
	}, nil
}

func positiveOr[T int | time.Duration](value, fallback T) T {
	if value > 0 {
		return value
	}

	return fallback
}

// RunID returns the run identifier.
func (e *LiveEngine) RunID() string {
	return e.core.RunID()
}

// Core returns the shared decision core.
func (e *LiveEngine) Core() *Core {
	return e.core
}

// WarmUp seeds the bar history from a historical source, typically a
// DuckDBFeed over recent data, so indicators are ready at the first live
// decision. Only events before the current primary bucket are used. It must
// be called before Run.
func (e *LiveEngine) WarmUp(ctx context.Context, source feed.Feed) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return 0, errors.New(errors.ErrCodeEngineAlreadyRunning, "live engine already ran")
	}

	return e.core.WarmUp(ctx, source, e.clock.Now())
}

// Run consumes source until ctx is done, Stop is called or an OnEvent
// callback fails. On the way out it stops the ingestion worker within the
// shutdown timeout, flushes the in-progress bars, squares off open positions
// in intraday mode and persists the final state.
func (e *LiveEngine) Run(ctx context.Context, source feed.Feed, callbacks Callbacks) (err error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()

		return errors.New(errors.ErrCodeEngineAlreadyRunning, "live engine already ran")
	}

	e.started = true
	e.mu.Unlock()

	e.running.Store(true)

	defer func() {
		if closeErr := e.core.Close(); closeErr != nil && err == nil {
			err = closeErr
		}

		e.running.Store(false)
		close(e.done)

		if callbacks.OnEngineStop != nil {
			(*callbacks.OnEngineStop)(err)
		}
	}()

	if err := e.core.Begin(e.clock.Now(), callbacks); err != nil {
		return err
	}

	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()

	items := make(chan feedItem, e.eventBuffer)

	var workers conc.WaitGroup

	workers.Go(func() {
		defer close(items)

		for event, feedErr := range source.Stream(ingestCtx) {
			select {
			case items <- feedItem{event: event, err: feedErr}:
			case <-ingestCtx.Done():
				return
			}
		}
	})

	err = e.consume(ctx, items, callbacks)

	cancelIngest()

	if !e.waitWorkers(&workers) {
		e.log.Warn("Ingestion worker did not stop in time",
			zap.String("run_id", e.core.RunID()),
			zap.Duration("timeout", e.shutdownTimeout),
		)
	}

	e.core.Finish(ctx, e.clock.Now(), false, true)

	e.log.Info("Live engine stopped",
		zap.String("run_id", e.core.RunID()),
		zap.Int("steps", e.core.Steps()),
	)

	return err
}

//nolint:funcorder // helper for Run
func (e *LiveEngine) consume(ctx context.Context, items <-chan feedItem, callbacks Callbacks) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.poll(ctx)

	processed := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.stopCh:
			return nil
		case <-ticker.C:
			e.poll(ctx)
		case item, ok := <-items:
			if !ok {
				e.log.Warn("Live feed ended", zap.String("run_id", e.core.RunID()))

				items = nil

				continue
			}

			if item.err != nil {
				e.core.ReportFeedError(item.err)

				continue
			}

			// A tick from a later bucket may arrive before the clock reaches
			// its boundary. Close the earlier steps first so their snapshots
			// never see it.
			if bucket := e.core.Bucket(item.event.Time); !item.event.Time.IsZero() && bucket.After(e.core.LastBoundary()) {
				e.core.Step(ctx, bucket)
			}

			e.core.Ingest(item.event)
			processed++

			if callbacks.OnEvent != nil {
				if err := (*callbacks.OnEvent)(processed); err != nil {
					return errors.Wrap(errors.ErrCodeCallbackFailed, "OnEvent callback failed", err)
				}
			}
		}
	}
}

// poll steps when the clock has moved past the last boundary by more than
// the close grace.
//
//nolint:funcorder // helper for consume
func (e *LiveEngine) poll(ctx context.Context) {
	boundary := e.core.Bucket(e.clock.Now().Add(-e.closeGrace))
	if boundary.After(e.core.LastBoundary()) {
		e.core.Step(ctx, boundary)
	}
}

//nolint:funcorder // helper for Run
func (e *LiveEngine) waitWorkers(workers *conc.WaitGroup) bool {
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		if recovered := workers.WaitAndRecover(); recovered != nil {
			e.log.Error("Ingestion worker panicked",
				zap.String("run_id", e.core.RunID()),
				zap.Error(recovered.AsError()),
			)
		}
	}()

	timer := time.NewTimer(e.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}

// Stop asks Run to return and waits until it has, or until ctx is done.
// Stopping an engine that never ran returns immediately.
func (e *LiveEngine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})

	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeEngineShutdownFailed, "live engine did not stop in time", ctx.Err())
	}
}

// Done is closed when Run has returned.
func (e *LiveEngine) Done() <-chan struct{} {
	return e.done
}

// Portfolio returns a copy of the latest published portfolio. It is safe to
// call while Run is in progress.
func (e *LiveEngine) Portfolio() types.PortfolioState {
	return e.core.Portfolio()
}

// Prices returns the latest known price of every instrument.
func (e *LiveEngine) Prices() map[string]float64 {
	return e.core.Prices()
}

// Stats returns the cumulative statistics.
func (e *LiveEngine) Stats() types.TradeStats {
	return e.core.Stats()
}

// Status describes the engine for health checks.
func (e *LiveEngine) Status() Status {
	lastStep, steps := e.core.Progress()

	return Status{
		RunID:    e.core.RunID(),
		Session:  e.core.Session().State().String(),
		LastStep: lastStep,
		Steps:    steps,
		Running:  e.running.Load(),
	}
}
