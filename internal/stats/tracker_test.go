package stats

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/stretchr/testify/suite"
)

type TrackerTestSuite struct {
	suite.Suite
	tempDir string
	logger  *logger.Logger
	start   time.Time
	key     types.PositionKey
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func (s *TrackerTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	s.Require().NoError(err)
	s.logger = log
}

func (s *TrackerTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.start = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	s.key = types.NewPositionKey("NIFTY", types.Resolution5m)
}

func (s *TrackerTestSuite) newTracker() *Tracker {
	tracker := NewTracker(time.UTC, s.logger)
	tracker.Initialize("bt_test", []string{"NIFTY"}, s.start, types.StrategyInfo{Name: "sma_crossover", Version: "1.0.0"}, 1000000)

	return tracker
}

func (s *TrackerTestSuite) buy(at time.Time) types.Trade {
	return types.Trade{
		TradeID:   "b",
		Key:       s.key,
		Side:      types.PurchaseTypeBuy,
		Quantity:  100,
		Price:     100,
		Timestamp: at,
	}
}

func (s *TrackerTestSuite) sell(at time.Time, pnl float64, closes bool) types.Trade {
	return types.Trade{
		TradeID:        "s",
		Key:            s.key,
		Side:           types.PurchaseTypeSell,
		Quantity:       50,
		Price:          110,
		Timestamp:      at,
		RealizedPnL:    pnl,
		EntryTime:      s.start,
		ClosesPosition: closes,
	}
}

func (s *TrackerTestSuite) TestInitialize() {
	tracker := s.newTracker()

	s.Equal("bt_test", tracker.RunID())
	s.Equal("2024-03-04", tracker.CurrentDate())

	stats := tracker.Cumulative()
	s.Equal(1000000.0, stats.InitialCash)
	s.Equal(1000000.0, stats.FinalEquity)
	s.Equal("sma_crossover", stats.Strategy.Name)
	s.Equal([]string{"NIFTY"}, stats.Instruments)
}

func (s *TrackerTestSuite) TestWinningRoundTripWithPartialExit() {
	tracker := s.newTracker()

	tracker.RecordTrade(s.buy(s.start))
	tracker.RecordTrade(s.sell(s.start.Add(10*time.Minute), 500, false))
	tracker.RecordTrade(s.sell(s.start.Add(20*time.Minute), 300, true))

	stats := tracker.Cumulative()
	s.Equal(3, stats.TradeResult.NumberOfTrades)
	s.Equal(1, stats.TradeResult.NumberOfRoundTrips)
	s.Equal(1, stats.TradeResult.NumberOfWinningTrades)
	s.Equal(0, stats.TradeResult.NumberOfLosingTrades)
	s.Equal(1.0, stats.TradeResult.WinRate)
	s.Equal(800.0, stats.TradePnl.RealizedPnL)
	s.Equal(800.0, stats.TradePnl.MaximumProfit)
	s.Equal(1200, stats.TradeHoldingTime.Max)
	s.Equal(s.start.Add(20*time.Minute), stats.LastUpdated)
}

func (s *TrackerTestSuite) TestLosingRoundTripAndDrawdown() {
	tracker := s.newTracker()

	tracker.RecordTrade(s.buy(s.start))
	tracker.RecordTrade(s.sell(s.start.Add(time.Minute), 1000, true))
	tracker.RecordTrade(s.buy(s.start.Add(2 * time.Minute)))
	tracker.RecordTrade(s.sell(s.start.Add(3*time.Minute), -1500, true))

	stats := tracker.Cumulative()
	s.Equal(2, stats.TradeResult.NumberOfRoundTrips)
	s.Equal(1, stats.TradeResult.NumberOfLosingTrades)
	s.Equal(0.5, stats.TradeResult.WinRate)
	s.Equal(-1500.0, stats.TradePnl.MaximumLoss)
	s.Equal(1500.0, stats.TradeResult.MaxDrawdown)
	s.Equal(-500.0, stats.TradePnl.RealizedPnL)
}

func (s *TrackerTestSuite) TestProfitFactor() {
	tracker := s.newTracker()

	tracker.RecordTrade(s.buy(s.start))
	tracker.RecordTrade(s.sell(s.start.Add(time.Minute), 1200, true))
	s.Zero(tracker.Cumulative().TradeResult.ProfitFactor)

	tracker.RecordTrade(s.buy(s.start.Add(2 * time.Minute)))
	tracker.RecordTrade(s.sell(s.start.Add(3*time.Minute), -200, false))
	tracker.RecordTrade(s.sell(s.start.Add(4*time.Minute), -400, true))

	// 1200 won over 600 lost; the partial exit counts with its round trip.
	s.InDelta(2.0, tracker.Cumulative().TradeResult.ProfitFactor, 1e-9)
}

func (s *TrackerTestSuite) TestSharpeRatio() {
	s.Zero(SharpeRatio(100, nil))
	s.Zero(SharpeRatio(100, []float64{101}))
	s.Zero(SharpeRatio(100, []float64{100, 100, 100}))
	s.InDelta(6.7388895, SharpeRatio(100, []float64{101, 100, 102}), 1e-6)
}

func (s *TrackerTestSuite) TestSharpeRatioUsesDailyClosingEquity() {
	tracker := s.newTracker()

	state := func(at time.Time, cash float64) types.PortfolioState {
		return types.PortfolioState{RunID: "bt_test", Time: at, InitialCash: 1000000, Cash: cash} //nolint:exhaustruct
	}

	// Only the last update of each day counts.
	tracker.UpdatePortfolio(state(s.start, 900000), nil)
	tracker.UpdatePortfolio(state(s.start.Add(time.Hour), 1010000), nil)
	tracker.UpdatePortfolio(state(s.start.AddDate(0, 0, 1), 1000000), nil)
	tracker.UpdatePortfolio(state(s.start.AddDate(0, 0, 2), 1020000), nil)

	s.InDelta(SharpeRatio(1000000, []float64{1010000, 1000000, 1020000}), tracker.Cumulative().TradeResult.SharpeRatio, 1e-9)
	s.Zero(tracker.Daily().TradeResult.SharpeRatio)
}

func (s *TrackerTestSuite) TestRejectionsAndPortfolio() {
	tracker := s.newTracker()

	tracker.RecordRejection(types.Rejection{Key: s.key, Timestamp: s.start})

	state := types.PortfolioState{
		RunID:       "bt_test",
		Time:        s.start.Add(time.Hour),
		InitialCash: 1000000,
		Cash:        900000,
		Positions: map[types.PositionKey]types.Position{
			s.key: {Key: s.key, Quantity: 100, AverageEntryPrice: 1000, AllocatedCapital: 100000, OpenTime: s.start},
		},
		SlotCapital: map[types.PositionKey]float64{s.key: 100000},
	}

	tracker.UpdatePortfolio(state, map[string]float64{"NIFTY": 1010})

	stats := tracker.Cumulative()
	s.Equal(1, stats.TradeResult.NumberOfRejections)
	s.Equal(1000.0, stats.TradePnl.UnrealizedPnL)
	s.Equal(1000.0, stats.TradePnl.TotalPnL)
	s.Equal(1001000.0, stats.FinalEquity)
	s.Equal(s.start.Add(time.Hour), stats.LastUpdated)
}

func (s *TrackerTestSuite) TestDateBoundaryResetsDaily() {
	tracker := s.newTracker()

	tracker.RecordTrade(s.buy(s.start))
	tracker.RecordTrade(s.sell(s.start.Add(time.Minute), 100, true))

	s.False(tracker.HandleDateBoundary("2024-03-04"))
	s.True(tracker.HandleDateBoundary("2024-03-05"))

	daily := tracker.Daily()
	s.Equal("2024-03-05", daily.Date)
	s.Equal(0, daily.TradeResult.NumberOfTrades)

	cumulative := tracker.Cumulative()
	s.Equal("2024-03-04", cumulative.Date)
	s.Equal(2, cumulative.TradeResult.NumberOfTrades)
}

func (s *TrackerTestSuite) TestWriteStatsYAML() {
	tracker := s.newTracker()
	s.NoError(tracker.WriteStatsYAML())

	path := filepath.Join(s.tempDir, "stats.yaml")
	tracker.SetFilePaths(filepath.Join(s.tempDir, "trades.parquet"), filepath.Join(s.tempDir, "snapshots.parquet"), path)
	s.Equal(path, tracker.StatsOutputPath())

	tracker.RecordTrade(s.buy(s.start))
	tracker.RecordTrade(s.sell(s.start.Add(time.Minute), 250, true))
	s.Require().NoError(tracker.WriteStatsYAML())

	written, err := types.ReadTradeStats(path)
	s.Require().NoError(err)
	s.Equal("bt_test", written.ID)
	s.Equal(250.0, written.TradePnl.RealizedPnL)
	s.Equal(filepath.Join(s.tempDir, "trades.parquet"), written.TradesFilePath)
}

func (s *TrackerTestSuite) TestWriteStatsYAMLFails() {
	tracker := s.newTracker()
	tracker.SetFilePaths("", "", filepath.Join(s.tempDir, "missing", "stats.yaml"))

	s.Error(tracker.WriteStatsYAML())
}

func (s *TrackerTestSuite) TestConcurrentAccess() {
	tracker := s.newTracker()

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tracker.RecordTrade(s.buy(s.start))
			_ = tracker.Daily()
			_ = tracker.Cumulative()
		}()
	}

	wg.Wait()

	s.Equal(10, tracker.Cumulative().TradeResult.NumberOfTrades)
}
