// Package stats keeps the running performance statistics of a run.
package stats

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

// Accumulator holds running statistics for a period.
type Accumulator struct {
	Trades        int
	RoundTrips    int
	WinningTrades int
	LosingTrades  int
	Rejections    int
	RealizedPnL   float64
	UnrealizedPnL float64
	MaxProfit     float64
	MaxLoss       float64
	MaxDrawdown   float64
	PeakPnL       float64
	// GrossProfit and GrossLoss sum the winning and losing round trips.
	// GrossLoss is positive.
	GrossProfit  float64
	GrossLoss    float64
	HoldingTimes []int // in seconds
}

// Sharpe ratio inputs. Returns are taken between the closing equity of
// consecutive trading days.
const (
	AnnualRiskFreeRate = 0.06
	TradingDaysPerYear = 252
)

func newAccumulator() *Accumulator {
	return &Accumulator{
		Trades:        0,
		RoundTrips:    0,
		WinningTrades: 0,
		LosingTrades:  0,
		Rejections:    0,
		RealizedPnL:   0,
		UnrealizedPnL: 0,
		MaxProfit:     0,
		MaxLoss:       0,
		MaxDrawdown:   0,
		PeakPnL:       0,
		GrossProfit:   0,
		GrossLoss:     0,
		HoldingTimes:  make([]int, 0),
	}
}

// Tracker aggregates trades into daily and cumulative statistics. A position
// counts as one round trip when it is fully closed; its P&L is the sum of all
// SELLs that reduced it, including partial exits.
type Tracker struct {
	runID        string
	instruments  []string
	sessionStart time.Time
	currentDate  string
	location     *time.Location
	strategyInfo types.StrategyInfo
	initialCash  float64
	finalEquity  float64
	lastUpdated  time.Time

	daily      *Accumulator
	cumulative *Accumulator
	// openPnL accrues the realized P&L of keys that are still open.
	openPnL map[types.PositionKey]float64
	// dailyEquity holds the last equity seen on each trading day, oldest
	// first. equityDay is the day of the last entry.
	dailyEquity []float64
	equityDay   string

	tradesFilePath    string
	snapshotsFilePath string
	statsOutputPath   string

	mu  sync.Mutex
	log *logger.Logger
}

// NewTracker creates a Tracker. Dates are formatted in loc.
func NewTracker(loc *time.Location, log *logger.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Tracker{
		runID:             "",
		instruments:       nil,
		sessionStart:      time.Time{},
		currentDate:       "",
		location:          loc,
		strategyInfo:      types.StrategyInfo{}, //nolint:exhaustruct // set by Initialize
		initialCash:       0,
		finalEquity:       0,
		lastUpdated:       time.Time{},
		daily:             newAccumulator(),
		cumulative:        newAccumulator(),
		openPnL:           make(map[types.PositionKey]float64),
		dailyEquity:       nil,
		equityDay:         "",
		tradesFilePath:    "",
		snapshotsFilePath: "",
		statsOutputPath:   "",
		mu:                sync.Mutex{},
		log:               log,
	}
}

// Initialize sets the run information reported with every TradeStats.
func (t *Tracker) Initialize(runID string, instruments []string, sessionStart time.Time, strategyInfo types.StrategyInfo, initialCash float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runID = runID
	t.instruments = slices.Clone(instruments)
	t.sessionStart = sessionStart
	t.currentDate = sessionStart.In(t.location).Format("2006-01-02")
	t.strategyInfo = strategyInfo
	t.initialCash = initialCash
	t.finalEquity = initialCash
	t.lastUpdated = sessionStart

	t.log.Info("Stats tracker initialized",
		zap.String("run_id", runID),
		zap.Strings("instruments", instruments),
	)
}

// SetFilePaths sets the output files referenced by the stats.
func (t *Tracker) SetFilePaths(tradesPath, snapshotsPath, statsPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tradesFilePath = tradesPath
	t.snapshotsFilePath = snapshotsPath
	t.statsOutputPath = statsPath
}

// RecordTrade adds a fill to the statistics.
func (t *Tracker) RecordTrade(trade types.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdated = trade.Timestamp

	if trade.Side != types.PurchaseTypeSell {
		t.daily.Trades++
		t.cumulative.Trades++

		return
	}

	t.openPnL[trade.Key] += trade.RealizedPnL

	closed := trade.ClosesPosition
	roundTrip := t.openPnL[trade.Key]

	if closed {
		delete(t.openPnL, trade.Key)
	}

	for _, acc := range []*Accumulator{t.daily, t.cumulative} {
		updateAccumulator(acc, trade, closed, roundTrip)
	}

	t.log.Debug("Trade recorded",
		zap.String("trade_id", trade.TradeID),
		zap.Stringer("key", trade.Key),
		zap.Float64("pnl", trade.RealizedPnL),
		zap.Int("total_trades", t.cumulative.Trades),
	)
}

func updateAccumulator(acc *Accumulator, trade types.Trade, closed bool, roundTrip float64) {
	acc.Trades++
	acc.RealizedPnL += trade.RealizedPnL

	if acc.RealizedPnL > acc.PeakPnL {
		acc.PeakPnL = acc.RealizedPnL
	}

	if drawdown := acc.PeakPnL - acc.RealizedPnL; drawdown > acc.MaxDrawdown {
		acc.MaxDrawdown = drawdown
	}

	if !closed {
		return
	}

	acc.RoundTrips++

	switch {
	case roundTrip > 0:
		acc.WinningTrades++
		acc.GrossProfit += roundTrip
	case roundTrip < 0:
		acc.LosingTrades++
		acc.GrossLoss -= roundTrip
	}

	acc.MaxProfit = max(acc.MaxProfit, roundTrip)
	acc.MaxLoss = min(acc.MaxLoss, roundTrip)

	if seconds := int(trade.HoldingTime().Seconds()); seconds > 0 {
		acc.HoldingTimes = append(acc.HoldingTimes, seconds)
	}
}

// RecordRejection counts a rejected order.
func (t *Tracker) RecordRejection(rejection types.Rejection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.daily.Rejections++
	t.cumulative.Rejections++
	t.lastUpdated = rejection.Timestamp
}

// UpdatePortfolio refreshes the open P&L and equity from a ledger snapshot.
func (t *Tracker) UpdatePortfolio(state types.PortfolioState, prices map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	unrealized := state.UnrealizedPnL(prices)

	t.daily.UnrealizedPnL = unrealized
	t.cumulative.UnrealizedPnL = unrealized
	t.finalEquity = state.Equity(prices)

	if !state.Time.IsZero() {
		day := state.Time.In(t.location).Format("2006-01-02")
		if day == t.equityDay && len(t.dailyEquity) > 0 {
			t.dailyEquity[len(t.dailyEquity)-1] = t.finalEquity
		} else {
			t.dailyEquity = append(t.dailyEquity, t.finalEquity)
			t.equityDay = day
		}
	}

	if state.Time.After(t.lastUpdated) {
		t.lastUpdated = state.Time
	}
}

// HandleDateBoundary resets the daily statistics when date differs from the
// current one. It reports whether the date changed.
func (t *Tracker) HandleDateBoundary(date string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if date == t.currentDate {
		return false
	}

	oldDate := t.currentDate
	t.currentDate = date
	t.daily = newAccumulator()
	t.daily.UnrealizedPnL = t.cumulative.UnrealizedPnL

	t.log.Info("Date boundary handled, daily stats reset",
		zap.String("old_date", oldDate),
		zap.String("new_date", date),
	)

	return true
}

// Daily returns the statistics of the current trading day.
func (t *Tracker) Daily() types.TradeStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.build(t.daily, t.currentDate, nil)
}

// Cumulative returns the statistics since the run started.
func (t *Tracker) Cumulative() types.TradeStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.build(t.cumulative, t.sessionStart.In(t.location).Format("2006-01-02"), t.dailyEquity)
}

// build reports acc. The Sharpe ratio is computed over equity, which is nil
// for a single day.
//
//nolint:funcorder // helper for Daily, Cumulative and WriteStatsYAML
func (t *Tracker) build(acc *Accumulator, date string, equity []float64) types.TradeStats {
	winRate := 0.0
	if acc.RoundTrips > 0 {
		winRate = float64(acc.WinningTrades) / float64(acc.RoundTrips)
	}

	return types.TradeStats{
		ID:           t.runID,
		Date:         date,
		SessionStart: t.sessionStart,
		LastUpdated:  t.lastUpdated,
		Instruments:  slices.Clone(t.instruments),
		TradeResult: types.TradeResult{
			NumberOfTrades:        acc.Trades,
			NumberOfRoundTrips:    acc.RoundTrips,
			NumberOfWinningTrades: acc.WinningTrades,
			NumberOfLosingTrades:  acc.LosingTrades,
			NumberOfRejections:    acc.Rejections,
			WinRate:               winRate,
			MaxDrawdown:           acc.MaxDrawdown,
			SharpeRatio:           SharpeRatio(t.initialCash, equity),
			ProfitFactor:          ProfitFactor(acc.GrossProfit, acc.GrossLoss),
		},
		TradeHoldingTime: holdingTime(acc.HoldingTimes),
		TradePnl: types.TradePnl{
			RealizedPnL:   acc.RealizedPnL,
			UnrealizedPnL: acc.UnrealizedPnL,
			TotalPnL:      acc.RealizedPnL + acc.UnrealizedPnL,
			MaximumLoss:   acc.MaxLoss,
			MaximumProfit: acc.MaxProfit,
		},
		InitialCash:       t.initialCash,
		FinalEquity:       t.finalEquity,
		TradesFilePath:    t.tradesFilePath,
		SnapshotsFilePath: t.snapshotsFilePath,
		Strategy:          t.strategyInfo,
	}
}

// SharpeRatio annualizes the mean daily excess return over its sample
// standard deviation. The first return is measured from initial. It is zero
// with fewer than two returns or no variation.
func SharpeRatio(initial float64, equity []float64) float64 {
	returns := make([]float64, 0, len(equity))

	previous := initial
	for _, value := range equity {
		if previous > 0 {
			returns = append(returns, value/previous-1-AnnualRiskFreeRate/TradingDaysPerYear)
		}

		previous = value
	}

	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}

	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}

	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}

	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// ProfitFactor divides the gross profit by the gross loss of closed
// positions. Without a losing round trip it is undefined and reported as 0.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss <= 0 {
		return 0
	}

	return grossProfit / grossLoss
}

func holdingTime(seconds []int) types.TradeHoldingTime {
	if len(seconds) == 0 {
		return types.TradeHoldingTime{Min: 0, Max: 0, Avg: 0}
	}

	total := 0
	for _, s := range seconds {
		total += s
	}

	return types.TradeHoldingTime{
		Min: slices.Min(seconds),
		Max: slices.Max(seconds),
		Avg: total / len(seconds),
	}
}

// WriteStatsYAML writes the cumulative statistics to the stats output path.
// It does nothing when no path is set.
func (t *Tracker) WriteStatsYAML() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statsOutputPath == "" {
		return nil
	}

	stats := t.build(t.cumulative, t.sessionStart.In(t.location).Format("2006-01-02"), t.dailyEquity)

	if err := types.WriteTradeStats(t.statsOutputPath, stats); err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to write stats", err)
	}

	return nil
}

// StatsOutputPath returns where WriteStatsYAML writes.
func (t *Tracker) StatsOutputPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.statsOutputPath
}

// CurrentDate returns the trading day of the daily statistics.
func (t *Tracker) CurrentDate() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.currentDate
}

// RunID returns the run identifier.
func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.runID
}
