// Package ledger owns the portfolio state of one run.
//
// Every key (instrument, timeframe) has its own capital slot. The first BUY a
// key ever makes draws the fixed per-key capital from the cash pool; from then
// on the slot only grows or shrinks by the key's own realized P&L. Apply is
// the only way to change the state.
package ledger

import (
	"sync"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/shopspring/decimal"
)

type position struct {
	key       types.PositionKey
	quantity  int64
	avgPrice  decimal.Decimal
	allocated decimal.Decimal
	realized  decimal.Decimal
	openTime  time.Time
}

func (p *position) export() types.Position {
	return types.Position{
		Key:               p.key,
		Quantity:          p.quantity,
		AverageEntryPrice: p.avgPrice.InexactFloat64(),
		AllocatedCapital:  p.allocated.InexactFloat64(),
		RealizedPnL:       p.realized.InexactFloat64(),
		OpenTime:          p.openTime,
	}
}

// Ledger is safe for concurrent use. Apply holds the write lock for exactly
// one trade; reads return deep copies.
type Ledger struct {
	mu                 sync.RWMutex
	runID              string
	initialCash        decimal.Decimal
	capitalPerPosition decimal.Decimal
	// cash is the pool not yet drawn by any key.
	cash      decimal.Decimal
	slots     map[types.PositionKey]decimal.Decimal
	positions map[types.PositionKey]*position
	lastTime  time.Time
}

// NewLedger creates a ledger with initialCash in the pool and
// capitalPerPosition drawn by each key on first use.
func NewLedger(runID string, initialCash, capitalPerPosition float64) (*Ledger, error) {
	if initialCash <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "initial cash must be positive, got %v", initialCash)
	}

	if capitalPerPosition <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "capital per position must be positive, got %v", capitalPerPosition)
	}

	if capitalPerPosition > initialCash {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"capital per position %v exceeds initial cash %v", capitalPerPosition, initialCash)
	}

	return &Ledger{
		mu:                 sync.RWMutex{},
		runID:              runID,
		initialCash:        decimal.NewFromFloat(initialCash),
		capitalPerPosition: decimal.NewFromFloat(capitalPerPosition),
		cash:               decimal.NewFromFloat(initialCash),
		slots:              make(map[types.PositionKey]decimal.Decimal),
		positions:          make(map[types.PositionKey]*position),
		lastTime:           time.Time{},
	}, nil
}

// Apply commits trade and returns the resulting position. After a SELL that
// fully closes a key the returned position has quantity 0 and carries the
// total realized P&L of the round trip.
func (l *Ledger) Apply(trade types.Trade) (types.Position, error) {
	if trade.Quantity <= 0 {
		return types.Position{}, errors.Newf(errors.ErrCodeInvalidOrder, "trade quantity must be positive, got %d", trade.Quantity)
	}

	if trade.Price <= 0 {
		return types.Position{}, errors.Newf(errors.ErrCodeInvalidOrder, "trade price must be positive, got %v", trade.Price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		result types.Position
		err    error
	)

	switch trade.Side {
	case types.PurchaseTypeBuy:
		result, err = l.buy(trade)
	case types.PurchaseTypeSell:
		result, err = l.sell(trade)
	default:
		return types.Position{}, errors.Newf(errors.ErrCodeInvalidOrder, "unknown trade side %q", trade.Side)
	}

	if err != nil {
		return types.Position{}, err
	}

	if trade.Timestamp.After(l.lastTime) {
		l.lastTime = trade.Timestamp
	}

	return result, nil
}

func (l *Ledger) buy(trade types.Trade) (types.Position, error) {
	if _, open := l.positions[trade.Key]; open {
		return types.Position{}, errors.Newf(errors.ErrCodeInvalidTransition,
			"%s already holds an open position", trade.Key)
	}

	slot, firstDraw, err := l.entryCapitalLocked(trade.Key)
	if err != nil {
		return types.Position{}, err
	}

	price := decimal.NewFromFloat(trade.Price)

	cost := price.Mul(decimal.NewFromInt(trade.Quantity))
	if cost.GreaterThan(slot) {
		return types.Position{}, errors.Newf(errors.ErrCodeInsufficientCapital,
			"%s needs %s for %d units but its slot holds %s", trade.Key, cost, trade.Quantity, slot)
	}

	if firstDraw {
		l.cash = l.cash.Sub(slot)
		l.slots[trade.Key] = slot
	}

	p := &position{
		key:       trade.Key,
		quantity:  trade.Quantity,
		avgPrice:  price,
		allocated: slot,
		realized:  decimal.Zero,
		openTime:  trade.Timestamp,
	}
	l.positions[trade.Key] = p

	return p.export(), nil
}

func (l *Ledger) sell(trade types.Trade) (types.Position, error) {
	p, open := l.positions[trade.Key]
	if !open {
		return types.Position{}, errors.Newf(errors.ErrCodeNoOpenPosition, "%s has no open position to sell", trade.Key)
	}

	if trade.Quantity > p.quantity {
		return types.Position{}, errors.Newf(errors.ErrCodeInvalidTransition,
			"%s cannot sell %d units, only %d are open", trade.Key, trade.Quantity, p.quantity)
	}

	pnl := decimal.NewFromFloat(trade.Price).Sub(p.avgPrice).Mul(decimal.NewFromInt(trade.Quantity))
	p.quantity -= trade.Quantity
	p.realized = p.realized.Add(pnl)

	if p.quantity > 0 {
		return p.export(), nil
	}

	l.slots[trade.Key] = p.allocated.Add(p.realized)
	delete(l.positions, trade.Key)

	closed := p.export()
	closed.AverageEntryPrice = 0

	return closed, nil
}

// EntryCapital reports the capital the next BUY on key may use.
func (l *Ledger) EntryCapital(key types.PositionKey) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	slot, _, err := l.entryCapitalLocked(key)
	if err != nil {
		return 0, err
	}

	return slot.InexactFloat64(), nil
}

func (l *Ledger) entryCapitalLocked(key types.PositionKey) (decimal.Decimal, bool, error) {
	slot, ok := l.slots[key]
	if !ok {
		if l.cash.LessThan(l.capitalPerPosition) {
			return decimal.Zero, false, errors.Newf(errors.ErrCodeInsufficientCapital,
				"cash pool %s cannot fund a new slot of %s for %s", l.cash, l.capitalPerPosition, key)
		}

		return l.capitalPerPosition, true, nil
	}

	if !slot.IsPositive() {
		return decimal.Zero, false, errors.Newf(errors.ErrCodeInsufficientCapital, "%s has no capital left (%s)", key, slot)
	}

	return slot, false, nil
}

// Position returns a copy of the open position of key.
func (l *Ledger) Position(key types.PositionKey) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[key]
	if !ok {
		return types.Position{}, false
	}

	return p.export(), true
}

// Positions returns copies of every open position.
func (l *Ledger) Positions() map[types.PositionKey]types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make(map[types.PositionKey]types.Position, len(l.positions))
	for key, p := range l.positions {
		positions[key] = p.export()
	}

	return positions
}

// Snapshot returns a deep copy of the portfolio state.
func (l *Ledger) Snapshot() types.PortfolioState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make(map[types.PositionKey]types.Position, len(l.positions))
	for key, p := range l.positions {
		positions[key] = p.export()
	}

	slots := make(map[types.PositionKey]float64, len(l.slots))
	for key, slot := range l.slots {
		slots[key] = slot.InexactFloat64()
	}

	return types.PortfolioState{
		RunID:       l.runID,
		Time:        l.lastTime,
		InitialCash: l.initialCash.InexactFloat64(),
		Cash:        l.cash.InexactFloat64(),
		Positions:   positions,
		SlotCapital: slots,
	}
}

// CapitalPerPosition returns the capital each key draws on first use.
func (l *Ledger) CapitalPerPosition() float64 {
	return l.capitalPerPosition.InexactFloat64()
}

// CheckInvariants verifies that open positions are funded and that the pool
// plus the principal drawn by all slots equals the initial cash.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for key, p := range l.positions {
		if p.quantity <= 0 {
			return errors.Newf(errors.ErrCodeLedgerInvariantError, "%s is open with quantity %d", key, p.quantity)
		}

		if !p.allocated.IsPositive() {
			return errors.Newf(errors.ErrCodeLedgerInvariantError, "%s is open with allocated capital %s", key, p.allocated)
		}

		if _, ok := l.slots[key]; !ok {
			return errors.Newf(errors.ErrCodeLedgerInvariantError, "%s is open without a capital slot", key)
		}
	}

	if l.cash.IsNegative() {
		return errors.Newf(errors.ErrCodeLedgerInvariantError, "cash pool is negative: %s", l.cash)
	}

	drawn := l.capitalPerPosition.Mul(decimal.NewFromInt(int64(len(l.slots))))
	if !l.cash.Add(drawn).Equal(l.initialCash) {
		return errors.Newf(errors.ErrCodeLedgerInvariantError,
			"cash %s plus drawn principal %s does not equal initial cash %s", l.cash, drawn, l.initialCash)
	}

	return nil
}
