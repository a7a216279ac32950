package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/internal/writers"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

// ReplayEngine runs a strategy over a finite, time ordered event sequence on
// a single goroutine. The same input and config always produce the same
// trades.
type ReplayEngine struct {
	cfg   Config
	core  *Core
	owned *writers.ParquetSink
	log   *logger.Logger
}

// NewReplayEngine validates cfg and builds the engine. An empty run id is
// generated from the wall clock. Without a sink in deps, records are written
// as Parquet files to {output.path}/{run_id}.
func NewReplayEngine(cfg Config, deps Dependencies) (*ReplayEngine, error) {
	if cfg.RunID == "" {
		cfg.RunID = NewRunID(BacktestRunPrefix, cfg.Strategy.Name, cfg.Instruments, time.Now())
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	var owned *writers.ParquetSink

	if deps.Sink == nil && cfg.Output.Path != "" {
		owned = writers.NewParquetSink(filepath.Join(cfg.Output.Path, cfg.RunID), false, log)
		deps.Sink = owned
	}

	core, err := NewCore(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &ReplayEngine{
		cfg:   cfg,
		core:  core,
		owned: owned,
		log:   log,
	}, nil
}

// RunID returns the run identifier.
func (e *ReplayEngine) RunID() string {
	return e.core.RunID()
}

// Core returns the shared decision core.
func (e *ReplayEngine) Core() *Core {
	return e.core
}

// Run replays source to the end. Before ingesting an event whose primary
// bucket is later than the last boundary it steps at the new boundary; at
// end of data it flushes every bucket and runs a final step. Events outside
// the configured backtest window are skipped. Cancelling ctx stops the replay
// without a final decision and returns ctx.Err().
func (e *ReplayEngine) Run(ctx context.Context, source feed.Feed, callbacks Callbacks) (err error) {
	defer func() {
		if closeErr := e.core.Close(); closeErr != nil && err == nil {
			err = closeErr
		}

		if callbacks.OnEngineStop != nil {
			(*callbacks.OnEngineStop)(err)
		}
	}()

	if e.owned != nil {
		if err := e.owned.Initialize(); err != nil {
			return err
		}
	}

	e.core.setCallbacks(callbacks)

	var (
		processed int
		boundary  time.Time
	)

	for event, feedErr := range source.Stream(ctx) {
		if feedErr != nil {
			e.core.ReportFeedError(feedErr)

			continue
		}

		if !e.inWindow(event.Time) {
			continue
		}

		if !e.core.Started() {
			if err := e.core.Begin(event.Time, callbacks); err != nil {
				return err
			}

			boundary = e.core.Bucket(event.Time)
		}

		if bucket := e.core.Bucket(event.Time); bucket.After(boundary) {
			e.core.Step(ctx, bucket)
			boundary = bucket
		}

		e.core.Ingest(event)
		processed++

		if callbacks.OnEvent != nil {
			if err := (*callbacks.OnEvent)(processed); err != nil {
				return errors.Wrap(errors.ErrCodeCallbackFailed, "OnEvent callback failed", err)
			}
		}
	}

	if !e.core.Started() {
		e.log.Warn("Replay finished without events", zap.String("run_id", e.core.RunID()))

		return ctx.Err()
	}

	e.core.Finish(ctx, time.Time{}, ctx.Err() == nil, false)

	e.log.Info("Replay finished",
		zap.String("run_id", e.core.RunID()),
		zap.Int("events", processed),
		zap.Int("steps", e.core.Steps()),
	)

	return ctx.Err()
}

//nolint:funcorder // helper for Run
func (e *ReplayEngine) inWindow(ts time.Time) bool {
	if e.cfg.Backtest.StartTime.IsSome() && ts.Before(e.cfg.Backtest.StartTime.Unwrap()) {
		return false
	}

	if e.cfg.Backtest.EndTime.IsSome() && !ts.Before(e.cfg.Backtest.EndTime.Unwrap()) {
		return false
	}

	return true
}

// Portfolio returns a copy of the latest published portfolio.
func (e *ReplayEngine) Portfolio() types.PortfolioState {
	return e.core.Portfolio()
}

// Stats returns the cumulative statistics.
func (e *ReplayEngine) Stats() types.TradeStats {
	return e.core.Stats()
}
