package engine

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/internal/writers"
	"github.com/rxtech-lab/argo-papertrade/mocks"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

// manualClock is a clock moved by the test.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}

// channelFeed yields what the test sends until its context is done.
type channelFeed struct {
	items  chan feedItem
	exited chan struct{}
}

func newChannelFeed() *channelFeed {
	return &channelFeed{
		items:  make(chan feedItem, 16),
		exited: make(chan struct{}),
	}
}

func (f *channelFeed) Stream(ctx context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(yield func(types.PriceEvent, error) bool) {
		defer close(f.exited)

		for {
			select {
			case <-ctx.Done():
				return
			case item := <-f.items:
				if !yield(item.event, item.err) {
					return
				}
			}
		}
	}
}

// erroringFeed yields a single error.
type erroringFeed struct {
	err error
}

func (f *erroringFeed) Stream(context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(yield func(types.PriceEvent, error) bool) {
		yield(types.PriceEvent{}, f.err) //nolint:exhaustruct
	}
}

// stuckFeed ignores cancellation until released.
type stuckFeed struct {
	release chan struct{}
}

func (f *stuckFeed) Stream(context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(func(types.PriceEvent, error) bool) {
		<-f.release
	}
}

type LiveEngineTestSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	ist   *time.Location
	key   types.PositionKey
	clock *manualClock
}

func TestLiveEngineSuite(t *testing.T) {
	suite.Run(t, new(LiveEngineTestSuite))
}

func (s *LiveEngineTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	ist, err := time.LoadLocation("Asia/Kolkata")
	s.Require().NoError(err)

	s.ist = ist
	s.key = types.NewPositionKey("NIFTY", types.Resolution1m)
	s.clock = &manualClock{now: s.at(9, 15, 0)}
}

func (s *LiveEngineTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *LiveEngineTestSuite) at(hour, minute, second int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, second, 0, s.ist)
}

func (s *LiveEngineTestSuite) config() Config {
	cfg := DefaultConfig()
	cfg.RunID = "live_test"
	cfg.Resolutions = []types.Resolution{types.Resolution1m}
	cfg.Instruments = []string{"NIFTY"}
	cfg.LotSizes.Instruments = map[string]int64{"NIFTY": 50}
	cfg.Live.TickInterval = 2 * time.Millisecond
	cfg.Live.CloseGrace = 0
	cfg.Live.ShutdownTimeout = 200 * time.Millisecond
	cfg.Live.SnapshotInterval = 0
	cfg.Output.Path = ""

	return cfg
}

func (s *LiveEngineTestSuite) buyOnce() *mocks.MockStrategy {
	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("buy_once").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()
	strat.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).Return([]types.Signal{types.NewBuySignal(s.key, "entry")}, nil).Times(1)

	return strat
}

func (s *LiveEngineTestSuite) newEngine(cfg Config, strat *mocks.MockStrategy) *LiveEngine {
	clock := mocks.NewMockClock(s.ctrl)
	clock.EXPECT().Now().DoAndReturn(s.clock.Now).AnyTimes()

	engine, err := NewLiveEngine(cfg, Dependencies{Strategy: strat, Clock: clock})
	s.Require().NoError(err)

	return engine
}

type liveRecorder struct {
	trades    chan types.Trade
	events    chan int
	anomalies chan types.Anomaly
	errs      chan error
}

func newLiveRecorder() *liveRecorder {
	return &liveRecorder{
		trades:    make(chan types.Trade, 16),
		events:    make(chan int, 16),
		anomalies: make(chan types.Anomaly, 16),
		errs:      make(chan error, 16),
	}
}

func (r *liveRecorder) callbacks() Callbacks {
	onTrade := OnTradeCallback(func(trade types.Trade) { r.trades <- trade })
	onAnomaly := OnAnomalyCallback(func(anomaly types.Anomaly) { r.anomalies <- anomaly })
	onError := OnErrorCallback(func(err error) { r.errs <- err })
	onEvent := OnEventCallback(func(processed int) error {
		r.events <- processed

		return nil
	})

	return Callbacks{
		OnEngineStart:   nil,
		OnEngineStop:    nil,
		OnEvent:         &onEvent,
		OnBar:           nil,
		OnTrade:         &onTrade,
		OnRejection:     nil,
		OnAnomaly:       &onAnomaly,
		OnSessionChange: nil,
		OnSnapshot:      nil,
		OnError:         &onError,
	}
}

func receive[T any](s *LiveEngineTestSuite, ch <-chan T) T {
	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for the engine")

		var zero T

		return zero
	}
}

func (s *LiveEngineTestSuite) start(engine *LiveEngine, source *channelFeed, rec *liveRecorder) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() {
		result <- engine.Run(ctx, source, rec.callbacks())
	}()

	return cancel, result
}

// openPosition feeds one tick at 09:15:10 and moves the clock past the bar
// so the strategy buys at 09:16.
func (s *LiveEngineTestSuite) openPosition(source *channelFeed, rec *liveRecorder) types.Trade {
	source.items <- feedItem{event: types.PriceEvent{Instrument: "NIFTY", Time: s.at(9, 15, 10), Price: 1000, Volume: 5}, err: nil}
	s.Equal(1, receive[int](s, rec.events))

	s.clock.Set(s.at(9, 16, 0))

	buy := receive[types.Trade](s, rec.trades)
	s.Equal(types.PurchaseTypeBuy, buy.Side)
	s.Equal(int64(100), buy.Quantity)
	s.True(buy.Timestamp.Equal(s.at(9, 16, 0)))

	return buy
}

func (s *LiveEngineTestSuite) TestClockClosesBarsAndSquaresOff() {
	engine := s.newEngine(s.config(), s.buyOnce())
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	s.openPosition(source, rec)

	// No data arrives after the entry; the clock alone reaches the cutoff.
	s.clock.Set(s.at(15, 14, 0))

	sell := receive[types.Trade](s, rec.trades)
	s.Equal(types.PurchaseTypeSell, sell.Side)
	s.Equal(types.OrderReasonIntradaySquareOff, sell.Reason)
	s.True(sell.Timestamp.Equal(s.at(15, 14, 0)))

	s.Eventually(func() bool {
		return engine.Status().Session == session.StateClosing.String()
	}, time.Second, 5*time.Millisecond)

	cancel()
	s.NoError(receive[error](s, result))

	receive[struct{}](s, source.exited)
	receive[struct{}](s, engine.Done())

	s.False(engine.Status().Running)
	s.Empty(engine.Portfolio().Positions)
}

func (s *LiveEngineTestSuite) TestShutdownSquaresOffIntraday() {
	engine := s.newEngine(s.config(), s.buyOnce())
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	s.openPosition(source, rec)

	s.clock.Set(s.at(10, 0, 0))
	cancel()
	s.NoError(receive[error](s, result))

	sell := receive[types.Trade](s, rec.trades)
	s.Equal(types.PurchaseTypeSell, sell.Side)
	s.Equal(types.OrderReasonShutdown, sell.Reason)
	s.Empty(engine.Portfolio().Positions)
}

func (s *LiveEngineTestSuite) TestShutdownKeepsPositionalPositions() {
	cfg := s.config()
	cfg.Session.Mode = session.ModePositional

	engine := s.newEngine(cfg, s.buyOnce())
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	s.openPosition(source, rec)

	s.NoError(engine.Stop(context.Background()))
	s.NoError(receive[error](s, result))

	s.Empty(rec.trades)
	s.Equal(int64(100), engine.Portfolio().Positions[s.key].Quantity)
}

func (s *LiveEngineTestSuite) TestPortfolioIsACopy() {
	engine := s.newEngine(s.config(), s.buyOnce())
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	done := make(chan struct{})
	readers := make(chan struct{})

	go func() {
		defer close(readers)

		for {
			select {
			case <-done:
				return
			default:
				_ = engine.Portfolio()
				_ = engine.Status()
				_ = engine.Stats()
			}
		}
	}()

	s.openPosition(source, rec)

	s.Eventually(func() bool {
		return engine.Portfolio().Positions[s.key].Quantity == 100
	}, time.Second, 5*time.Millisecond)

	state := engine.Portfolio()
	delete(state.Positions, s.key)
	state.SlotCapital[s.key] = 0

	fresh := engine.Portfolio()
	s.Equal(int64(100), fresh.Positions[s.key].Quantity)
	s.InDelta(DefaultCapitalPerPosition, fresh.SlotCapital[s.key], 1e-6)

	close(done)
	<-readers

	cancel()
	s.NoError(receive[error](s, result))
}

func (s *LiveEngineTestSuite) TestTickAheadOfClockIsNotSeenByEarlierStep() {
	cfg := s.config()
	cfg.Resolutions = []types.Resolution{types.Resolution1m, types.Resolution5m}

	snapshots := make(chan types.MarketSnapshot, 4)

	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("watcher").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()
	strat.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ time.Time, snapshot types.MarketSnapshot, _ map[types.PositionKey]types.Position) ([]types.Signal, error) {
			snapshots <- snapshot

			return nil, nil
		}).AnyTimes()

	engine := s.newEngine(cfg, strat)
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	source.items <- feedItem{event: types.PriceEvent{Instrument: "NIFTY", Time: s.at(9, 15, 10), Price: 100, Volume: 1}, err: nil}
	s.Equal(1, receive[int](s, rec.events))

	// The clock is still at 09:15 when the 09:16 tick arrives.
	source.items <- feedItem{event: types.PriceEvent{Instrument: "NIFTY", Time: s.at(9, 16, 1), Price: 150, Volume: 1}, err: nil}
	s.Equal(2, receive[int](s, rec.events))

	snapshot := receive[types.MarketSnapshot](s, snapshots)
	s.True(snapshot.Time.Equal(s.at(9, 16, 0)))

	minute, ok := snapshot.Series(types.Resolution1m, "NIFTY")
	s.Require().True(ok)
	s.Equal(100.0, minute.Current.Close)
	s.True(minute.Forming.IsNone())

	five, ok := snapshot.Series(types.Resolution5m, "NIFTY")
	s.Require().True(ok)
	s.Require().True(five.Forming.IsSome())
	s.Equal(100.0, five.Forming.Unwrap().High)
	s.InDelta(1.0, five.Forming.Unwrap().Volume, 1e-9)

	price, ok := snapshot.LastPrice("NIFTY")
	s.True(ok)
	s.Equal(100.0, price)

	// Reaching 09:16 on the clock does not step the same boundary again.
	s.clock.Set(s.at(9, 16, 0))
	s.Never(func() bool { return len(snapshots) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	s.NoError(receive[error](s, result))
}

func (s *LiveEngineTestSuite) TestWarmUpSeedsHistoryWithoutDeciding() {
	cfg := s.config()
	cfg.Resolutions = []types.Resolution{types.Resolution1m, types.Resolution5m}

	snapshots := make(chan types.MarketSnapshot, 4)

	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("watcher").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()
	strat.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ time.Time, snapshot types.MarketSnapshot, _ map[types.PositionKey]types.Position) ([]types.Signal, error) {
			snapshots <- snapshot

			return nil, nil
		}).AnyTimes()

	s.clock.Set(s.at(9, 18, 30))
	engine := s.newEngine(cfg, strat)

	count, err := engine.WarmUp(context.Background(), feed.NewSliceFeed([]types.PriceEvent{
		{Instrument: "NIFTY", Time: s.at(9, 15, 10), Price: 100, Volume: 1},
		{Instrument: "NIFTY", Time: s.at(9, 16, 10), Price: 101, Volume: 1},
		{Instrument: "", Time: s.at(9, 16, 20), Price: 101, Volume: 1},
		{Instrument: "NIFTY", Time: s.at(9, 17, 10), Price: 102, Volume: 1},
		{Instrument: "NIFTY", Time: s.at(9, 18, 5), Price: 999, Volume: 1},
	}))
	s.Require().NoError(err)
	s.Equal(3, count)

	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	// The first poll at 09:18 has no newly closed bar to decide on.
	s.Never(func() bool { return len(snapshots) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	source.items <- feedItem{event: types.PriceEvent{Instrument: "NIFTY", Time: s.at(9, 18, 10), Price: 110, Volume: 1}, err: nil}
	s.Equal(1, receive[int](s, rec.events))

	s.clock.Set(s.at(9, 19, 0))

	snapshot := receive[types.MarketSnapshot](s, snapshots)
	s.True(snapshot.Time.Equal(s.at(9, 19, 0)))

	minute, ok := snapshot.Series(types.Resolution1m, "NIFTY")
	s.Require().True(ok)
	s.Equal([]float64{100, 101, 102, 110}, minute.Closes())

	// The five minute bucket opened during warm-up is continued by live data.
	five, ok := snapshot.Series(types.Resolution5m, "NIFTY")
	s.Require().True(ok)
	s.Require().True(five.Forming.IsSome())
	s.Equal(100.0, five.Forming.Unwrap().Open)
	s.Equal(110.0, five.Forming.Unwrap().High)
	s.InDelta(4.0, five.Forming.Unwrap().Volume, 1e-9)

	cancel()
	s.NoError(receive[error](s, result))

	_, err = engine.WarmUp(context.Background(), feed.NewSliceFeed(nil))
	s.True(errors.HasCode(err, errors.ErrCodeEngineAlreadyRunning))
}

func (s *LiveEngineTestSuite) TestWarmUpFeedFailure() {
	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("watcher").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()

	engine := s.newEngine(s.config(), strat)
	source := &erroringFeed{err: errors.New(errors.ErrCodeDataSourceUnavailable, "file is gone")}

	_, err := engine.WarmUp(context.Background(), source)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeMarketDataFetchFailed))
}

func (s *LiveEngineTestSuite) TestFeedErrorsAreReported() {
	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("idle").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()
	strat.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	engine := s.newEngine(s.config(), strat)
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	source.items <- feedItem{event: types.PriceEvent{}, err: errors.New(errors.ErrCodeFeedDisconnected, "connection reset")} //nolint:exhaustruct
	s.Equal(errors.ErrCodeFeedDisconnected, errors.GetCode(receive[error](s, rec.errs)))

	source.items <- feedItem{event: types.PriceEvent{}, err: errors.New(errors.ErrCodeMarketDataParseFailed, "bad tick")} //nolint:exhaustruct
	s.Equal(errors.ErrCodeMarketDataParseFailed, receive[types.Anomaly](s, rec.anomalies).Code)

	source.items <- feedItem{event: types.PriceEvent{Instrument: "NIFTY", Time: s.at(9, 15, 20), Price: -1, Volume: 0}, err: nil}
	s.Equal(errors.ErrCodeMarketDataParseFailed, receive[types.Anomaly](s, rec.anomalies).Code)

	cancel()
	s.NoError(receive[error](s, result))
}

func (s *LiveEngineTestSuite) TestCallbackErrorStopsRun() {
	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("idle").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()

	engine := s.newEngine(s.config(), strat)
	source := newChannelFeed()

	onEvent := OnEventCallback(func(int) error { return fmt.Errorf("disk full") })

	source.items <- feedItem{event: types.PriceEvent{Instrument: "NIFTY", Time: s.at(9, 15, 10), Price: 1000, Volume: 5}, err: nil}

	err := engine.Run(context.Background(), source, Callbacks{OnEvent: &onEvent}) //nolint:exhaustruct
	s.Equal(errors.ErrCodeCallbackFailed, errors.GetCode(err))

	receive[struct{}](s, source.exited)
}

func (s *LiveEngineTestSuite) TestStopIsBounded() {
	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("idle").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()

	cfg := s.config()
	cfg.Live.ShutdownTimeout = 50 * time.Millisecond

	engine := s.newEngine(cfg, strat)
	source := &stuckFeed{release: make(chan struct{})}

	defer close(source.release)

	result := make(chan error, 1)

	go func() {
		result <- engine.Run(context.Background(), source, Callbacks{}) //nolint:exhaustruct
	}()

	s.Eventually(func() bool { return engine.Status().Running }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	started := time.Now()
	s.Require().NoError(engine.Stop(ctx))
	s.Less(time.Since(started), time.Second)
	s.NoError(receive[error](s, result))

	// Stop is idempotent once the engine has returned.
	s.NoError(engine.Stop(ctx))
}

func (s *LiveEngineTestSuite) TestRunsOnce() {
	strat := mocks.NewMockStrategy(s.ctrl)
	strat.EXPECT().Name().Return("idle").AnyTimes()
	strat.EXPECT().ContractVersion().Return("1.0.0").AnyTimes()

	engine := s.newEngine(s.config(), strat)

	// Stopping before Run does not block.
	s.NoError(engine.Stop(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.NoError(engine.Run(ctx, newChannelFeed(), Callbacks{})) //nolint:exhaustruct

	err := engine.Run(context.Background(), newChannelFeed(), Callbacks{}) //nolint:exhaustruct
	s.Equal(errors.ErrCodeEngineAlreadyRunning, errors.GetCode(err))
}

func (s *LiveEngineTestSuite) TestWritesDateFolder() {
	cfg := s.config()
	cfg.Output.Path = s.T().TempDir()

	engine := s.newEngine(cfg, s.buyOnce())
	source := newChannelFeed()
	rec := newLiveRecorder()

	cancel, result := s.start(engine, source, rec)
	defer cancel()

	s.openPosition(source, rec)

	cancel()
	s.NoError(receive[error](s, result))

	dir := filepath.Join(cfg.Output.Path, "2024-03-04", "run_1")

	for _, name := range []string{writers.TradesFileName, writers.SnapshotsFileName, writers.StatsFileName} {
		_, err := os.Stat(filepath.Join(dir, name))
		s.NoError(err, name)
	}

	written, err := types.ReadTradeStats(filepath.Join(dir, writers.StatsFileName))
	s.Require().NoError(err)
	s.Equal(2, written.TradeResult.NumberOfTrades)
}
