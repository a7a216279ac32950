package oms

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/ledger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/mocks"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type ExecutorTestSuite struct {
	suite.Suite
	ledger   *ledger.Ledger
	executor *Executor
	ts       time.Time
	key      types.PositionKey
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (s *ExecutorTestSuite) SetupTest() {
	l, err := ledger.NewLedger("bt_test", 1000000, 120000)
	s.Require().NoError(err)

	s.ledger = l
	s.executor = NewExecutor("bt_test", l, NewStaticLotSizes(0, map[string]int64{"NIFTY": 50}), nil)
	s.ts = time.Date(2024, 3, 4, 9, 20, 0, 0, time.UTC)
	s.key = types.NewPositionKey("NIFTY", types.Resolution5m)
}

func (s *ExecutorTestSuite) TestBuyRoundsDownToLot() {
	// 120000 / 1000 = 120 units, rounded to 100 with lot 50.
	trade, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)

	s.Equal(int64(100), trade.Quantity)
	s.Equal(1000.0, trade.Price)
	s.Equal(types.PurchaseTypeBuy, trade.Side)
	s.Equal(types.OrderReasonStrategy, trade.Reason)
	s.Equal("bt_test", trade.RunID)
	s.NotEmpty(trade.TradeID)
	s.NotEmpty(trade.OrderID)

	position, ok := s.ledger.Position(s.key)
	s.True(ok)
	s.Equal(int64(100), position.Quantity)
}

func (s *ExecutorTestSuite) TestBelowMinimumLotSize() {
	// 120000 / 3000 = 40 units, less than one lot of 50.
	_, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 3000, s.ts)
	s.Equal(errors.ErrCodeBelowMinimumLotSize, errors.GetCode(err))

	_, ok := s.ledger.Position(s.key)
	s.False(ok)
}

func (s *ExecutorTestSuite) TestExplicitBuyQuantityIsCapped() {
	signal := types.NewBuySignal(s.key, "")
	signal.Quantity = types.NewPartialSellSignal(s.key, 70, "").Quantity

	trade, err := s.executor.Execute(signal, 1000, s.ts)
	s.Require().NoError(err)
	s.Equal(int64(50), trade.Quantity)
}

func (s *ExecutorTestSuite) TestSellWithoutPosition() {
	_, err := s.executor.Execute(types.NewSellSignal(s.key, ""), 1000, s.ts)
	s.Equal(errors.ErrCodeNoOpenPosition, errors.GetCode(err))
	s.True(errors.IsInvalidTransition(err))
}

func (s *ExecutorTestSuite) TestNoPyramiding() {
	_, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)

	s.executor.BeginStep()

	_, err = s.executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts.Add(time.Minute))
	s.Equal(errors.ErrCodeInvalidTransition, errors.GetCode(err))
}

func (s *ExecutorTestSuite) TestAtMostOneFillPerKeyPerStep() {
	s.executor.BeginStep()

	_, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)

	_, err = s.executor.Execute(types.NewSellSignal(s.key, ""), 1000, s.ts)
	s.Equal(errors.ErrCodeDuplicateFill, errors.GetCode(err))
	s.True(errors.IsInvalidTransition(err))

	// A different key still fills in the same step.
	other := types.NewPositionKey("NIFTY", types.Resolution1m)
	_, err = s.executor.Execute(types.NewBuySignal(other, ""), 1000, s.ts)
	s.NoError(err)

	s.executor.BeginStep()

	trade, err := s.executor.Execute(types.NewSellSignal(s.key, ""), 1010, s.ts.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(100), trade.Quantity)
}

func (s *ExecutorTestSuite) TestSellRealizesPnL() {
	_, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)
	s.executor.BeginStep()

	partial, err := s.executor.Execute(types.NewPartialSellSignal(s.key, 60, "target_1"), 1010, s.ts.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(50), partial.Quantity)
	s.Equal(500.0, partial.RealizedPnL)
	s.Equal("target_1", partial.Reason)
	s.Equal(s.ts, partial.EntryTime)
	s.False(partial.ClosesPosition)
	s.executor.BeginStep()

	final, err := s.executor.Execute(types.NewSellSignal(s.key, "stop_loss"), 990, s.ts.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(50), final.Quantity)
	s.Equal(-500.0, final.RealizedPnL)
	s.True(final.ClosesPosition)
	s.Equal(2*time.Minute, final.HoldingTime())

	capital, err := s.ledger.EntryCapital(s.key)
	s.Require().NoError(err)
	s.Equal(120000.0, capital)
}

func (s *ExecutorTestSuite) TestUnknownInstrument() {
	key := types.NewPositionKey("RELIANCE", types.Resolution5m)

	_, err := s.executor.Execute(types.NewBuySignal(key, ""), 1000, s.ts)
	s.Equal(errors.ErrCodeUnknownInstrument, errors.GetCode(err))
}

func (s *ExecutorTestSuite) TestMissingReferencePrice() {
	_, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 0, s.ts)
	s.Equal(errors.ErrCodeMarketDataMissing, errors.GetCode(err))
}

func (s *ExecutorTestSuite) TestStaleLotSizeIsCaughtBeforeCommit() {
	ctrl := gomock.NewController(s.T())
	lots := mocks.NewMockLotSizeLookup(ctrl)

	gomock.InOrder(
		lots.EXPECT().LotSize("NIFTY").Return(int64(50), nil),
		lots.EXPECT().LotSize("NIFTY").Return(int64(75), nil),
	)

	executor := NewExecutor("bt_test", s.ledger, lots, nil)

	_, err := executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Equal(errors.ErrCodeInvalidLotMultiple, errors.GetCode(err))

	_, ok := s.ledger.Position(s.key)
	s.False(ok)
}

func (s *ExecutorTestSuite) TestFullExitSurvivesLotChange() {
	ctrl := gomock.NewController(s.T())
	lots := mocks.NewMockLotSizeLookup(ctrl)

	lot := int64(50)
	lots.EXPECT().LotSize("NIFTY").DoAndReturn(func(string) (int64, error) { return lot, nil }).AnyTimes()

	executor := NewExecutor("bt_test", s.ledger, lots, nil)

	buy, err := executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)
	s.Equal(int64(100), buy.Quantity)

	lot = 75
	executor.BeginStep()

	sell, err := executor.Execute(types.NewSellSignal(s.key, types.OrderReasonIntradaySquareOff), 1000, s.ts.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(100), sell.Quantity)
	s.True(sell.ClosesPosition)

	_, ok := s.ledger.Position(s.key)
	s.False(ok)
}

func (s *ExecutorTestSuite) TestPartialSellLeavingLessThanALotExitsAll() {
	ctrl := gomock.NewController(s.T())
	lots := mocks.NewMockLotSizeLookup(ctrl)

	lot := int64(50)
	lots.EXPECT().LotSize("NIFTY").DoAndReturn(func(string) (int64, error) { return lot, nil }).AnyTimes()

	executor := NewExecutor("bt_test", s.ledger, lots, nil)

	_, err := executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)

	// 75 of 100 would leave 25, less than the new lot.
	lot = 75
	executor.BeginStep()

	sell, err := executor.Execute(types.NewPartialSellSignal(s.key, 75, "target_1"), 1010, s.ts.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(100), sell.Quantity)
	s.True(sell.ClosesPosition)
	s.InDelta(1000.0, sell.RealizedPnL, 1e-9)
}

func (s *ExecutorTestSuite) TestLookupFailureIsUnknownInstrument() {
	ctrl := gomock.NewController(s.T())
	lots := mocks.NewMockLotSizeLookup(ctrl)
	lots.EXPECT().LotSize("NIFTY").Return(int64(0), errors.New(errors.ErrCodeQueryFailed, "symbol master offline"))

	executor := NewExecutor("bt_test", s.ledger, lots, nil)

	_, err := executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Equal(errors.ErrCodeUnknownInstrument, errors.GetCode(err))
}

func (s *ExecutorTestSuite) TestIDsAreReproducible() {
	first, err := s.executor.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)

	l, err := ledger.NewLedger("bt_test", 1000000, 120000)
	s.Require().NoError(err)

	replay := NewExecutor("bt_test", l, NewStaticLotSizes(0, map[string]int64{"NIFTY": 50}), nil)
	second, err := replay.Execute(types.NewBuySignal(s.key, ""), 1000, s.ts)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.NotEqual(first.OrderID, first.TradeID)
}

func (s *ExecutorTestSuite) TestQuantityAlwaysLotMultiple() {
	prices := []float64{1000, 1013.5, 997.25, 1200, 980, 1001}

	for i, price := range prices {
		s.executor.BeginStep()

		signal := types.NewBuySignal(s.key, "")
		if i%2 == 1 {
			signal = types.NewSellSignal(s.key, "")
		}

		_, _ = s.executor.Execute(signal, price, s.ts.Add(time.Duration(i)*time.Minute))

		position, ok := s.ledger.Position(s.key)
		if ok {
			s.Zero(position.Quantity % 50)
			s.Positive(position.Quantity)
		}
	}

	s.NoError(s.ledger.CheckInvariants())
}
