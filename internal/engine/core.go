package engine

import (
	"context"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/aggregator"
	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/ledger"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/oms"
	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/stats"
	"github.com/rxtech-lab/argo-papertrade/internal/strategy"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/internal/version"
	"github.com/rxtech-lab/argo-papertrade/internal/writers"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dependencies are the collaborators of a Core. Nil fields are built from
// the config or replaced by no-op implementations.
type Dependencies struct {
	// Strategy overrides the strategy named in the config.
	Strategy strategy.Strategy
	// Registry resolves the configured strategy name. Defaults to
	// strategy.NewDefaultRegistry().
	Registry *strategy.Registry
	Lots     oms.LotSizeLookup
	Sink     Sink
	Stats    *stats.Tracker
	// Runs rotates the sink into date folders when set.
	Runs    *session.RunManager
	Metrics *Metrics
	// Clock drives the live adapter. Defaults to SystemClock.
	Clock  Clock
	Logger *logger.Logger
}

// StepResult reports what one decision step did.
type StepResult struct {
	Boundary   time.Time
	Transition session.Transition
	Decided    bool
	Signals    int
	Trades     []types.Trade
	Rejections []types.Rejection
}

// Core owns the aggregator, session controller, OMS and ledger of one run
// and performs the decision step shared by the replay and live adapters.
// Apart from Portfolio, Prices and Stats it must be used from one goroutine.
type Core struct {
	cfg        Config
	runID      string
	primary    types.Resolution
	aggregator *aggregator.BarAggregator
	strategy   strategy.Strategy
	session    *session.Controller
	ledger     *ledger.Ledger
	executor   *oms.Executor
	sink       Sink
	stats      *stats.Tracker
	runs       *session.RunManager
	metrics    *Metrics
	callbacks  Callbacks
	log        *logger.Logger

	anomalyLimiter *rate.Limiter
	snapshotEvery  time.Duration
	lastSnapshot   time.Time

	started       bool
	primaryClosed bool
	decisions     int
	steps         int
	lastBoundary  time.Time

	mu          sync.RWMutex
	portfolio   types.PortfolioState
	prices      map[string]float64
	publishedAt time.Time
	published   int
}

// NewCore validates cfg and wires a Core. Configuration problems are the
// only errors it returns.
func NewCore(cfg Config, deps Dependencies) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.RunID == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "run id is required")
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	agg, err := aggregator.NewBarAggregator(cfg.Resolutions, cfg.HistorySize)
	if err != nil {
		return nil, err
	}

	controller, err := session.NewController(cfg.Session, log)
	if err != nil {
		return nil, err
	}

	book, err := ledger.NewLedger(cfg.RunID, cfg.InitialCash, cfg.CapitalPerPosition)
	if err != nil {
		return nil, err
	}

	strat, err := resolveStrategy(cfg, deps)
	if err != nil {
		return nil, err
	}

	lots, err := resolveLots(cfg.LotSizes, deps.Lots)
	if err != nil {
		return nil, err
	}

	sink := deps.Sink
	if sink == nil {
		sink = NopSink{}
	}

	tracker := deps.Stats
	if tracker == nil {
		tracker = stats.NewTracker(controller.Location(), log)
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(cfg.RunID, false)
	}

	return &Core{
		cfg:            cfg,
		runID:          cfg.RunID,
		primary:        cfg.PrimaryResolution,
		aggregator:     agg,
		strategy:       strat,
		session:        controller,
		ledger:         book,
		executor:       oms.NewExecutor(cfg.RunID, book, lots, log),
		sink:           sink,
		stats:          tracker,
		runs:           deps.Runs,
		metrics:        metrics,
		callbacks:      Callbacks{}, //nolint:exhaustruct // set by Begin
		log:            log,
		anomalyLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		snapshotEvery:  0,
		lastSnapshot:   time.Time{},
		started:        false,
		primaryClosed:  false,
		decisions:      0,
		steps:          0,
		lastBoundary:   time.Time{},
		mu:             sync.RWMutex{},
		portfolio:      book.Snapshot(),
		prices:         make(map[string]float64),
		publishedAt:    time.Time{},
		published:      0,
	}, nil
}

func resolveStrategy(cfg Config, deps Dependencies) (strategy.Strategy, error) {
	if deps.Strategy != nil {
		if err := version.CheckContract(version.StrategyContract, deps.Strategy.ContractVersion()); err != nil {
			return nil, err
		}

		return deps.Strategy, nil
	}

	registry := deps.Registry
	if registry == nil {
		registry = strategy.NewDefaultRegistry()
	}

	return registry.Create(cfg.Strategy.Name, strategy.Options{
		Primary:     cfg.PrimaryResolution,
		Resolutions: cfg.Resolutions,
		Instruments: cfg.Instruments,
		Params:      cfg.Strategy.Params,
	})
}

func resolveLots(cfg LotSizeConfig, lots oms.LotSizeLookup) (oms.LotSizeLookup, error) {
	if lots != nil {
		return lots, nil
	}

	if cfg.File == "" {
		return oms.NewStaticLotSizes(cfg.Default, maps.Clone(cfg.Instruments)), nil
	}

	loaded, err := oms.LoadLotSizes(cfg.File, cfg.Default)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to load lot sizes from %s", cfg.File)
	}

	maps.Copy(loaded.Instruments, cfg.Instruments)

	return loaded, nil
}

// RunID returns the run identifier.
func (c *Core) RunID() string {
	return c.runID
}

// Primary returns the decision resolution.
func (c *Core) Primary() types.Resolution {
	return c.primary
}

// Session returns the session controller.
func (c *Core) Session() *session.Controller {
	return c.session
}

// Metrics returns the engine metrics.
func (c *Core) Metrics() *Metrics {
	return c.metrics
}

// LastBoundary returns the boundary of the latest step.
func (c *Core) LastBoundary() time.Time {
	return c.lastBoundary
}

// Steps returns the number of steps run.
func (c *Core) Steps() int {
	return c.steps
}

// SetSnapshotInterval spaces persisted snapshots at least every apart.
// Zero persists a snapshot at every step.
func (c *Core) SetSnapshotInterval(every time.Duration) {
	c.snapshotEvery = every
}

// Begin prepares the run starting at start and calls OnEngineStart.
func (c *Core) Begin(start time.Time, callbacks Callbacks) error {
	c.setCallbacks(callbacks)

	if c.runs != nil {
		if err := c.runs.Initialize(c.cfg.Output.Path, start); err != nil {
			return err
		}

		if err := c.rotateSink(c.runs.CurrentRunPath()); err != nil {
			return err
		}
	}

	c.stats.Initialize(c.runID, c.cfg.Instruments, start, types.StrategyInfo{
		Name:    c.strategy.Name(),
		Version: c.strategy.ContractVersion(),
	}, c.cfg.InitialCash)
	c.setStatsPaths()

	c.started = true

	c.log.Info("Engine started",
		zap.String("run_id", c.runID),
		zap.String("strategy", c.strategy.Name()),
		zap.String("primary", string(c.primary)),
		zap.String("mode", string(c.session.Mode())),
		zap.Time("start", start),
	)

	if c.callbacks.OnEngineStart != nil {
		if err := (*c.callbacks.OnEngineStart)(c.runID, c.cfg.Instruments, c.primary); err != nil {
			return errors.Wrap(errors.ErrCodeCallbackFailed, "OnEngineStart callback failed", err)
		}
	}

	return nil
}

//nolint:funcorder // helper for Begin and the adapters
func (c *Core) setCallbacks(callbacks Callbacks) {
	c.callbacks = callbacks
}

// Started reports whether Begin has run.
func (c *Core) Started() bool {
	return c.started
}

// Bucket returns the primary bucket containing t in the session time zone.
func (c *Core) Bucket(t time.Time) time.Time {
	return c.primary.Truncate(t.In(c.session.Location()))
}

// Ingest adds one price event to the aggregator. Late or malformed events
// are recorded as anomalies and dropped. Buckets are aligned in the session
// time zone.
func (c *Core) Ingest(event types.PriceEvent) {
	c.metrics.recordEvent()

	event.Time = event.Time.In(c.session.Location())

	closed, err := c.aggregator.Ingest(event)
	c.onBars(closed)

	if err != nil {
		c.recordAnomaly(event.Instrument, event.Time, err)
	}
}

// WarmUp fills the bar history from source before the first step. Events at
// or after the bucket containing until are dropped, so the primary bars it
// builds are all closed and no decision sees them as new. Higher resolution
// buckets spanning until stay open and are continued by live data. Late or
// malformed events are skipped. It returns the number of events ingested.
func (c *Core) WarmUp(ctx context.Context, source feed.Feed, until time.Time) (int, error) {
	if c.started {
		return 0, errors.New(errors.ErrCodeEngineAlreadyRunning, "warm-up must run before the first step")
	}

	boundary := c.Bucket(until)
	count := 0
	skipped := 0

	for event, err := range source.Stream(ctx) {
		if err != nil {
			if errors.GetCode(err) == errors.ErrCodeMarketDataParseFailed {
				skipped++

				continue
			}

			return count, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "warm-up feed failed", err)
		}

		event.Time = event.Time.In(c.session.Location())
		if !event.Time.Before(boundary) {
			continue
		}

		if _, err := c.aggregator.Ingest(event); err != nil {
			skipped++

			continue
		}

		count++
	}

	if err := ctx.Err(); err != nil {
		return count, err
	}

	c.aggregator.CloseDue(boundary)
	c.primaryClosed = false

	c.log.Info("History warmed up",
		zap.String("run_id", c.runID),
		zap.Int("events", count),
		zap.Int("skipped", skipped),
		zap.Int("primary_bars", c.aggregator.ClosedCount(c.primary)),
		zap.Time("until", boundary),
	)

	return count, nil
}

// ReportFeedError records a feed error. Parse failures become anomalies;
// anything else goes to OnError.
func (c *Core) ReportFeedError(err error) {
	if errors.GetCode(err) == errors.ErrCodeMarketDataParseFailed {
		c.recordAnomaly("", time.Time{}, err)

		return
	}

	c.reportError(err)
}

// Step closes the buckets due at boundary and runs one decision step.
func (c *Core) Step(ctx context.Context, boundary time.Time) StepResult {
	boundary = boundary.In(c.session.Location())
	c.onBars(c.aggregator.CloseDue(boundary))

	return c.step(ctx, boundary, nil)
}

// Finish closes every in-progress bucket and runs a last step at at. A zero
// at is replaced by the latest close time of the flushed primary bars. With
// decide set the strategy sees the flushed bars; with squareOff set open
// positions are exited with reason shutdown in intraday mode.
func (c *Core) Finish(ctx context.Context, at time.Time, decide, squareOff bool) StepResult {
	boundary := c.lastBoundary

	for _, bar := range c.aggregator.Flush() {
		c.onBar(bar)

		if at.IsZero() && bar.Resolution == c.primary && bar.CloseTime().After(boundary) {
			boundary = bar.CloseTime()
		}
	}

	if at.After(boundary) {
		boundary = at.In(c.session.Location())
	}

	if !decide {
		c.primaryClosed = false
	}

	var extra []types.Signal
	if squareOff {
		extra = c.session.ShutdownExits(c.ledger.Positions())
	}

	return c.step(ctx, boundary, extra)
}

func (c *Core) step(ctx context.Context, boundary time.Time, extra []types.Signal) StepResult {
	c.steps++
	if boundary.After(c.lastBoundary) {
		c.lastBoundary = boundary
	}

	c.executor.BeginStep()

	transition := c.session.Advance(boundary)
	if transition.Changed() {
		c.log.Info("Session state changed",
			zap.String("run_id", c.runID),
			zap.Stringer("from", transition.From),
			zap.Stringer("to", transition.To),
			zap.Time("time", boundary),
		)

		if c.callbacks.OnSessionChange != nil {
			(*c.callbacks.OnSessionChange)(transition)
		}
	}

	c.handleDay(boundary)

	result := StepResult{
		Boundary:   boundary,
		Transition: transition,
		Decided:    false,
		Signals:    0,
		Trades:     nil,
		Rejections: nil,
	}

	snapshot := c.aggregator.Snapshot(boundary, c.primary)
	positions := c.ledger.Positions()

	var signals []types.Signal

	if c.primaryClosed {
		c.primaryClosed = false
		c.decisions++

		if c.decisions > c.cfg.WarmupBars && ctx.Err() == nil {
			signals = c.decide(boundary, snapshot, positions)
			result.Decided = true
		}
	}

	forced := c.session.ForcedExits(positions, boundary)
	forced = append(forced, extra...)
	signals = supersede(signals, forced)
	result.Signals = len(signals) + len(forced)

	for _, signal := range signals {
		c.execute(signal, snapshot, boundary, &result)
	}

	for _, signal := range forced {
		c.execute(signal, snapshot, boundary, &result)
	}

	if err := c.ledger.CheckInvariants(); err != nil {
		c.log.Error("Ledger invariant violated", zap.String("run_id", c.runID), zap.Error(err))
		c.reportError(err)
	}

	c.publish(boundary, snapshot.Prices())

	return result
}

//nolint:funcorder // helper for step
func (c *Core) decide(ts time.Time, snapshot types.MarketSnapshot, positions map[types.PositionKey]types.Position) []types.Signal {
	signals, err := c.strategy.Decide(ts, snapshot, positions)
	if err != nil {
		wrapped := errors.Wrapf(errors.ErrCodeStrategyRuntimeError, err, "strategy %s failed", c.strategy.Name())
		c.log.Warn("Strategy decision failed", zap.String("run_id", c.runID), zap.Time("time", ts), zap.Error(err))
		c.reportError(wrapped)

		return nil
	}

	return signals
}

// supersede drops strategy signals for keys that are being force-exited in
// the same step.
func supersede(signals, forced []types.Signal) []types.Signal {
	if len(forced) == 0 || len(signals) == 0 {
		return signals
	}

	exiting := make(map[types.PositionKey]struct{}, len(forced))
	for _, signal := range forced {
		exiting[signal.Key] = struct{}{}
	}

	kept := signals[:0:0]

	for _, signal := range signals {
		if _, ok := exiting[signal.Key]; !ok {
			kept = append(kept, signal)
		}
	}

	return kept
}

//nolint:funcorder // helper for step
func (c *Core) execute(signal types.Signal, snapshot types.MarketSnapshot, ts time.Time, result *StepResult) {
	c.metrics.recordSignal(signal)

	if signal.Side == types.PurchaseTypeBuy && !c.session.AllowEntry(ts) {
		c.reject(signal, ts, errors.Newf(errors.ErrCodeEntryWindowClosed,
			"entry for %s discarded outside the entry window at %s", signal.Key, ts.Format(time.RFC3339)), result)

		return
	}

	price, _ := snapshot.LastPrice(signal.Key.Instrument)

	trade, err := c.executor.Execute(signal, price, ts)
	if err != nil {
		c.reject(signal, ts, err, result)

		return
	}

	if trade.Side == types.PurchaseTypeBuy {
		c.session.RecordEntry(trade.Key, ts)
	}

	result.Trades = append(result.Trades, trade)

	c.stats.RecordTrade(trade)
	c.metrics.recordTrade(trade)

	if err := c.sink.WriteTrade(trade); err != nil {
		c.reportError(err)
	}

	c.log.Info("Trade executed",
		zap.String("run_id", c.runID),
		zap.Stringer("key", trade.Key),
		zap.String("side", string(trade.Side)),
		zap.Int64("quantity", trade.Quantity),
		zap.Float64("price", trade.Price),
		zap.Float64("pnl", trade.RealizedPnL),
		zap.String("reason", trade.Reason),
		zap.Time("time", ts),
	)

	if c.callbacks.OnTrade != nil {
		(*c.callbacks.OnTrade)(trade)
	}
}

//nolint:funcorder // helper for execute
func (c *Core) reject(signal types.Signal, ts time.Time, err error, result *StepResult) {
	rejection := types.NewRejection(c.runID, signal, ts, err)
	result.Rejections = append(result.Rejections, rejection)

	c.stats.RecordRejection(rejection)
	c.metrics.recordRejection(rejection)

	if writeErr := c.sink.WriteRejection(rejection); writeErr != nil {
		c.reportError(writeErr)
	}

	c.log.Debug("Order rejected",
		zap.String("run_id", c.runID),
		zap.Stringer("key", signal.Key),
		zap.String("side", string(signal.Side)),
		zap.Int("code", int(rejection.Code)),
		zap.Error(err),
	)

	if c.callbacks.OnRejection != nil {
		(*c.callbacks.OnRejection)(rejection)
	}
}

//nolint:funcorder // helper for Ingest, Step and Finish
func (c *Core) onBars(bars []types.Bar) {
	for _, bar := range bars {
		c.onBar(bar)
	}
}

//nolint:funcorder // helper for onBars and Finish
func (c *Core) onBar(bar types.Bar) {
	if bar.Resolution == c.primary {
		c.primaryClosed = true
	}

	c.metrics.recordBar(bar)

	if c.callbacks.OnBar != nil {
		(*c.callbacks.OnBar)(bar)
	}
}

//nolint:funcorder // helper for Ingest and ReportFeedError
func (c *Core) recordAnomaly(instrument string, ts time.Time, err error) {
	anomaly := types.Anomaly{
		RunID:      c.runID,
		Instrument: instrument,
		Resolution: "",
		Timestamp:  ts,
		Code:       errors.GetCode(err),
		Message:    err.Error(),
	}

	c.metrics.recordAnomaly()

	if writeErr := c.sink.WriteAnomaly(anomaly); writeErr != nil {
		c.reportError(writeErr)
	}

	if c.anomalyLimiter.Allow() {
		c.log.Warn("Market event dropped",
			zap.String("run_id", c.runID),
			zap.String("instrument", instrument),
			zap.Time("time", ts),
			zap.Error(err),
		)
	}

	if c.callbacks.OnAnomaly != nil {
		(*c.callbacks.OnAnomaly)(anomaly)
	}
}

//nolint:funcorder // helper used by every recoverable failure
func (c *Core) reportError(err error) {
	if c.callbacks.OnError != nil {
		(*c.callbacks.OnError)(err)
	}
}

//nolint:funcorder // helper for step
func (c *Core) handleDay(boundary time.Time) {
	day := boundary.In(c.session.Location()).Format("2006-01-02")
	if !c.stats.HandleDateBoundary(day) || c.runs == nil {
		return
	}

	changed, err := c.runs.HandleDateBoundary(boundary)
	if err != nil {
		c.reportError(err)

		return
	}

	if !changed {
		return
	}

	if err := c.stats.WriteStatsYAML(); err != nil {
		c.reportError(err)
	}

	if err := c.rotateSink(c.runs.CurrentRunPath()); err != nil {
		c.reportError(err)

		return
	}

	c.setStatsPaths()
}

//nolint:funcorder // helper for Begin and handleDay
func (c *Core) rotateSink(dir string) error {
	rotating, ok := c.sink.(RotatingSink)
	if !ok {
		return nil
	}

	return rotating.Rotate(dir)
}

//nolint:funcorder // helper for Begin and handleDay
func (c *Core) setStatsPaths() {
	switch sink := c.sink.(type) {
	case *writers.ParquetSink:
		c.stats.SetFilePaths(sink.TradesPath(), sink.SnapshotsPath(), filepath.Join(sink.Dir(), writers.StatsFileName))
	default:
		if c.runs != nil {
			c.stats.SetFilePaths("", "", c.runs.FilePath(writers.StatsFileName))
		}
	}
}

//nolint:funcorder // helper for step
func (c *Core) publish(boundary time.Time, prices map[string]float64) {
	state := c.ledger.Snapshot()
	state.Time = boundary

	c.mu.Lock()
	maps.Copy(c.prices, prices)
	merged := maps.Clone(c.prices)
	c.portfolio = state
	c.publishedAt = boundary
	c.published = c.steps
	c.mu.Unlock()

	c.stats.UpdatePortfolio(state, merged)
	c.metrics.recordPortfolio(state, merged)

	if c.snapshotEvery == 0 || c.lastSnapshot.IsZero() || boundary.Sub(c.lastSnapshot) >= c.snapshotEvery {
		if err := c.sink.WriteSnapshot(state, merged); err != nil {
			c.reportError(err)
		}

		c.lastSnapshot = boundary
	}

	if c.callbacks.OnSnapshot != nil {
		(*c.callbacks.OnSnapshot)(state.Clone())
	}
}

// Portfolio returns a copy of the portfolio published by the latest step.
// It is safe to call from any goroutine.
func (c *Core) Portfolio() types.PortfolioState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.portfolio.Clone()
}

// Progress returns the boundary and count of the latest published step. It
// is safe to call from any goroutine.
func (c *Core) Progress() (time.Time, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.publishedAt, c.published
}

// Prices returns a copy of the last known price of every instrument.
func (c *Core) Prices() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return maps.Clone(c.prices)
}

// Stats returns the cumulative statistics. It is safe to call from any goroutine.
func (c *Core) Stats() types.TradeStats {
	return c.stats.Cumulative()
}

// DailyStats returns the statistics of the current trading day.
func (c *Core) DailyStats() types.TradeStats {
	return c.stats.Daily()
}

// Close flushes and closes the sink and writes the statistics file.
func (c *Core) Close() error {
	var firstErr error

	if err := c.sink.Flush(); err != nil {
		firstErr = err
	}

	if err := c.stats.WriteStatsYAML(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := c.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	stats := c.stats.Cumulative()
	c.log.Info("Engine stopped",
		zap.String("run_id", c.runID),
		zap.Int("steps", c.steps),
		zap.Int("trades", stats.TradeResult.NumberOfTrades),
		zap.Float64("realized_pnl", stats.TradePnl.RealizedPnL),
		zap.Float64("final_equity", stats.FinalEquity),
	)

	return firstErr
}
