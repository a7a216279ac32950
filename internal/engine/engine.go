// Package engine drives the bar aggregator, strategy, session controller,
// OMS and ledger through one shared decision step, fed either by a replayed
// event sequence or by a live feed.
package engine

import (
	"strings"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

// Sink receives every record the engine produces.
type Sink interface {
	WriteTrade(trade types.Trade) error
	WriteRejection(rejection types.Rejection) error
	WriteAnomaly(anomaly types.Anomaly) error
	WriteSnapshot(state types.PortfolioState, prices map[string]float64) error
	Flush() error
	Close() error
}

// RotatingSink is a Sink that can move to a new folder when the trading day
// changes.
type RotatingSink interface {
	Sink
	Rotate(dir string) error
}

// Clock returns the current time. The live adapter polls it to close bars
// and advance the session without new data.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) WriteTrade(types.Trade) error                                 { return nil }
func (NopSink) WriteRejection(types.Rejection) error                         { return nil }
func (NopSink) WriteAnomaly(types.Anomaly) error                             { return nil }
func (NopSink) WriteSnapshot(types.PortfolioState, map[string]float64) error { return nil }
func (NopSink) Flush() error                                                 { return nil }
func (NopSink) Close() error                                                 { return nil }

// Lifecycle callback types. Callbacks run on the decision goroutine and must
// not block. Callbacks with an error return can abort the run.

// OnEngineStartCallback is called once before the first event.
type OnEngineStartCallback func(runID string, instruments []string, primary types.Resolution) error

// OnEngineStopCallback is called when the engine stops (always called via defer).
type OnEngineStopCallback func(err error)

// OnEventCallback is called after each ingested event with the number
// processed so far. Returning an error aborts the run.
type OnEventCallback func(processed int) error

// OnBarCallback is called for every closed bar.
type OnBarCallback func(bar types.Bar)

// OnTradeCallback is called for every fill.
type OnTradeCallback func(trade types.Trade)

// OnRejectionCallback is called for every refused order.
type OnRejectionCallback func(rejection types.Rejection)

// OnAnomalyCallback is called for every dropped market event.
type OnAnomalyCallback func(anomaly types.Anomaly)

// OnSessionChangeCallback is called when the session state moves.
type OnSessionChangeCallback func(transition session.Transition)

// OnSnapshotCallback is called with the portfolio after every step.
type OnSnapshotCallback func(state types.PortfolioState)

// OnErrorCallback is called when a non-fatal error occurs.
type OnErrorCallback func(err error)

// Callbacks holds the lifecycle callbacks.
// All fields are pointers - nil means no callback will be invoked.
type Callbacks struct {
	OnEngineStart   *OnEngineStartCallback
	OnEngineStop    *OnEngineStopCallback
	OnEvent         *OnEventCallback
	OnBar           *OnBarCallback
	OnTrade         *OnTradeCallback
	OnRejection     *OnRejectionCallback
	OnAnomaly       *OnAnomalyCallback
	OnSessionChange *OnSessionChangeCallback
	OnSnapshot      *OnSnapshotCallback
	OnError         *OnErrorCallback
}

// Run identifier prefixes.
const (
	BacktestRunPrefix = "bt"
	LiveRunPrefix     = "live"
)

// NewRunID builds a run identifier such as
// "bt_20240304_091500_sma_crossover_NIFTY_SBIN". Live runs omit the strategy
// and instruments: "live_20240304_091500".
func NewRunID(prefix, strategyName string, instruments []string, ts time.Time) string {
	id := prefix + "_" + ts.Format("20060102_150405")

	if prefix == LiveRunPrefix {
		return id
	}

	if strategyName != "" {
		id += "_" + strategyName
	}

	if len(instruments) > 0 {
		id += "_" + strings.Join(instruments, "_")
	}

	return id
}

// Status describes a running engine.
type Status struct {
	RunID    string    `json:"run_id"`
	Session  string    `json:"session"`
	LastStep time.Time `json:"last_step"`
	Steps    int       `json:"steps"`
	Running  bool      `json:"running"`
}
