// Package oms turns strategy signals into sized, validated fills.
package oms

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the part of the position ledger the executor needs.
type Ledger interface {
	Position(key types.PositionKey) (types.Position, bool)
	EntryCapital(key types.PositionKey) (float64, error)
	Apply(trade types.Trade) (types.Position, error)
}

// Executor validates and fills signals against a ledger. It is confined to
// the engine's decision goroutine.
type Executor struct {
	runID  string
	ledger Ledger
	lots   LotSizeLookup
	logger *logger.Logger
	// filled holds the keys that already traded in the current step.
	filled map[types.PositionKey]struct{}
	seq    uint64
}

// NewExecutor creates an Executor for one run.
func NewExecutor(runID string, ledger Ledger, lots LotSizeLookup, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Executor{
		runID:  runID,
		ledger: ledger,
		lots:   lots,
		logger: log,
		filled: make(map[types.PositionKey]struct{}),
		seq:    0,
	}
}

// BeginStep starts a new decision step. Each key fills at most once per step.
func (e *Executor) BeginStep() {
	clear(e.filled)
}

// Execute sizes signal at referencePrice and commits exactly one trade to the
// ledger. Checks run in order: fill-per-step, side against position state,
// lot lookup, sizing and the lot multiple re-check before commit. A SELL
// without a quantity, or one leaving less than a lot behind, closes the
// whole position whatever the current lot.
func (e *Executor) Execute(signal types.Signal, referencePrice float64, ts time.Time) (types.Trade, error) {
	key := signal.Key

	if _, done := e.filled[key]; done {
		return types.Trade{}, errors.Newf(errors.ErrCodeDuplicateFill, "%s already filled in this step", key)
	}

	position, open := e.ledger.Position(key)

	switch signal.Side {
	case types.PurchaseTypeBuy:
		if open {
			return types.Trade{}, errors.Newf(errors.ErrCodeInvalidTransition,
				"%s already holds %d units", key, position.Quantity)
		}
	case types.PurchaseTypeSell:
		if !open {
			return types.Trade{}, errors.Newf(errors.ErrCodeNoOpenPosition, "%s has no open position to sell", key)
		}
	default:
		return types.Trade{}, errors.Newf(errors.ErrCodeInvalidOrder, "unknown signal side %q", signal.Side)
	}

	if referencePrice <= 0 {
		return types.Trade{}, errors.Newf(errors.ErrCodeMarketDataMissing, "no reference price for %s", key.Instrument)
	}

	lot, err := e.lotSize(key.Instrument)
	if err != nil {
		return types.Trade{}, err
	}

	desired, err := e.desiredQuantity(signal, position, referencePrice)
	if err != nil {
		return types.Trade{}, err
	}

	quantity := desired - desired%lot

	// A SELL that would leave less than one lot open exits the whole
	// position, so a lot change while the position is held cannot strand a
	// remainder that no order could ever close.
	fullExit := signal.Side == types.PurchaseTypeSell &&
		(signal.Quantity.IsNone() || position.Quantity-quantity < lot)
	if fullExit {
		quantity = position.Quantity
	}

	if quantity <= 0 {
		return types.Trade{}, errors.Newf(errors.ErrCodeBelowMinimumLotSize,
			"%s: desired quantity %d is below one lot of %d", key, desired, lot)
	}

	reason := signal.Reason
	if reason == "" {
		reason = types.OrderReasonStrategy
	}

	order := types.Order{
		OrderID:           e.nextID("order"),
		Key:               key,
		Side:              signal.Side,
		RequestedQuantity: quantity,
		ReferencePrice:    referencePrice,
		Timestamp:         ts,
		Reason:            reason,
	}

	if err := order.Validate(); err != nil {
		return types.Trade{}, err
	}

	// The lot size is external reference data; read it again right before commit.
	current, err := e.lotSize(key.Instrument)
	if err != nil {
		return types.Trade{}, err
	}

	if !fullExit && order.RequestedQuantity%current != 0 {
		return types.Trade{}, errors.Newf(errors.ErrCodeInvalidLotMultiple,
			"%s: quantity %d is not a multiple of lot %d", key, order.RequestedQuantity, current)
	}

	trade := types.Trade{
		TradeID:        e.nextID("trade"),
		OrderID:        order.OrderID,
		RunID:          e.runID,
		Key:            key,
		Side:           order.Side,
		Quantity:       order.RequestedQuantity,
		Price:          order.ReferencePrice,
		Timestamp:      ts,
		RealizedPnL:    0,
		Reason:         order.Reason,
		EntryTime:      time.Time{},
		ClosesPosition: false,
	}

	after, err := e.ledger.Apply(trade)
	if err != nil {
		return types.Trade{}, err
	}

	if trade.Side == types.PurchaseTypeSell {
		trade.RealizedPnL = decimal.NewFromFloat(after.RealizedPnL).
			Sub(decimal.NewFromFloat(position.RealizedPnL)).
			InexactFloat64()
		trade.EntryTime = position.OpenTime
		trade.ClosesPosition = after.Quantity == 0
	}

	e.filled[key] = struct{}{}

	e.logger.Debug("Order filled",
		zap.String("run_id", e.runID),
		zap.Stringer("key", key),
		zap.String("side", string(trade.Side)),
		zap.Int64("quantity", trade.Quantity),
		zap.Float64("price", trade.Price),
		zap.String("reason", trade.Reason),
	)

	return trade, nil
}

func (e *Executor) desiredQuantity(signal types.Signal, position types.Position, price float64) (int64, error) {
	if signal.Side == types.PurchaseTypeSell {
		desired := position.Quantity
		if q, err := signal.Quantity.Take(); err == nil && q < desired {
			desired = q
		}

		return desired, nil
	}

	capital, err := e.ledger.EntryCapital(signal.Key)
	if err != nil {
		return 0, err
	}

	desired := decimal.NewFromFloat(capital).Div(decimal.NewFromFloat(price)).Floor().IntPart()
	if q, err := signal.Quantity.Take(); err == nil && q < desired {
		desired = q
	}

	return desired, nil
}

func (e *Executor) lotSize(instrument string) (int64, error) {
	lot, err := e.lots.LotSize(instrument)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeUnknownInstrument {
			return 0, err
		}

		return 0, errors.Wrapf(errors.ErrCodeUnknownInstrument, err, "lot size lookup failed for %s", instrument)
	}

	if lot <= 0 {
		return 0, errors.Newf(errors.ErrCodeUnknownInstrument, "instrument %s has no valid lot size (%d)", instrument, lot)
	}

	return lot, nil
}

// nextID returns a UUID derived from the run id and a sequence number, so a
// replay of the same run reproduces the same ids.
func (e *Executor) nextID(kind string) string {
	e.seq++

	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/%s/%d", e.runID, kind, e.seq)).String()
}
