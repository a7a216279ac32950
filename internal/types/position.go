package types

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// PositionKey identifies an independently capitalised position.
type PositionKey struct {
	Instrument string     `json:"instrument" yaml:"instrument" validate:"required"`
	Timeframe  Resolution `json:"timeframe" yaml:"timeframe" validate:"required"`
}

// NewPositionKey creates a PositionKey.
func NewPositionKey(instrument string, timeframe Resolution) PositionKey {
	return PositionKey{
		Instrument: instrument,
		Timeframe:  timeframe,
	}
}

// String returns the key as "INSTRUMENT@timeframe".
func (k PositionKey) String() string {
	return k.Instrument + "@" + string(k.Timeframe)
}

// MarshalText lets PositionKey be used as a JSON/YAML map key.
func (k PositionKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the "INSTRUMENT@timeframe" form.
func (k *PositionKey) UnmarshalText(text []byte) error {
	instrument, timeframe, ok := strings.Cut(string(text), "@")
	if !ok || instrument == "" {
		return errors.Newf(errors.ErrCodeInvalidParameter, "invalid position key %q", string(text))
	}

	res, err := ParseResolution(timeframe)
	if err != nil {
		return err
	}

	k.Instrument = instrument
	k.Timeframe = res

	return nil
}

// Compare orders keys by instrument, then by timeframe from finest to coarsest.
func (k PositionKey) Compare(other PositionKey) int {
	if c := strings.Compare(k.Instrument, other.Instrument); c != 0 {
		return c
	}

	return int(k.Timeframe.Duration() - other.Timeframe.Duration())
}

// SortedPositionKeys returns the keys of m in Compare order.
func SortedPositionKeys[V any](m map[PositionKey]V) []PositionKey {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, PositionKey.Compare)

	return keys
}

// Position is the open long holding for one key.
type Position struct {
	Key               PositionKey `json:"key" yaml:"key"`
	Quantity          int64       `json:"quantity" yaml:"quantity"`
	AverageEntryPrice float64     `json:"average_entry_price" yaml:"average_entry_price"`
	// AllocatedCapital is the slot capital committed to this entry.
	AllocatedCapital float64 `json:"allocated_capital" yaml:"allocated_capital"`
	// RealizedPnL accrues from partial exits while the position stays open.
	RealizedPnL float64   `json:"realized_pnl" yaml:"realized_pnl"`
	OpenTime    time.Time `json:"open_time" yaml:"open_time"`
}

// IsOpen reports whether the position holds any quantity.
func (p Position) IsOpen() bool {
	return p.Quantity > 0
}

// CostBasis returns quantity times average entry price.
func (p Position) CostBasis() float64 {
	return float64(p.Quantity) * p.AverageEntryPrice
}

// MarketValue returns the value of the holding at price.
func (p Position) MarketValue(price float64) float64 {
	return float64(p.Quantity) * price
}

// UnrealizedPnL returns the open profit of the holding at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return float64(p.Quantity) * (price - p.AverageEntryPrice)
}

// PortfolioState is a point-in-time copy of the ledger.
type PortfolioState struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	Time        time.Time `json:"time" yaml:"time"`
	InitialCash float64   `json:"initial_cash" yaml:"initial_cash"`
	// Cash is the pool not yet drawn by any key.
	Cash float64 `json:"cash" yaml:"cash"`
	// Positions only holds keys with quantity > 0.
	Positions map[PositionKey]Position `json:"positions" yaml:"positions"`
	// SlotCapital is the capital owned by every key that has ever traded,
	// compounded by its realized P&L.
	SlotCapital map[PositionKey]float64 `json:"slot_capital" yaml:"slot_capital"`
}

// Clone returns a deep copy of s.
func (s PortfolioState) Clone() PortfolioState {
	clone := s
	clone.Positions = maps.Clone(s.Positions)
	clone.SlotCapital = maps.Clone(s.SlotCapital)

	if clone.Positions == nil {
		clone.Positions = make(map[PositionKey]Position)
	}

	if clone.SlotCapital == nil {
		clone.SlotCapital = make(map[PositionKey]float64)
	}

	return clone
}

// RealizedPnL returns the profit realized so far across all slots.
func (s PortfolioState) RealizedPnL(capitalPerPosition float64) float64 {
	total := 0.0

	for key, slot := range s.SlotCapital {
		if position, open := s.Positions[key]; open {
			total += position.AllocatedCapital - capitalPerPosition + position.RealizedPnL

			continue
		}

		total += slot - capitalPerPosition
	}

	return total
}

// Holdings returns the market value of open positions. Instruments without a
// price in prices are valued at their average entry price.
func (s PortfolioState) Holdings(prices map[string]float64) float64 {
	total := 0.0

	for _, position := range s.Positions {
		price, ok := prices[position.Key.Instrument]
		if !ok {
			price = position.AverageEntryPrice
		}

		total += position.MarketValue(price)
	}

	return total
}

// UnrealizedPnL returns the open profit of all positions at prices.
func (s PortfolioState) UnrealizedPnL(prices map[string]float64) float64 {
	total := 0.0

	for _, position := range s.Positions {
		if price, ok := prices[position.Key.Instrument]; ok {
			total += position.UnrealizedPnL(price)
		}
	}

	return total
}

// Equity returns the total portfolio value at prices: undrawn cash, every
// slot's capital, partial-exit profits and the open profit of positions.
func (s PortfolioState) Equity(prices map[string]float64) float64 {
	total := s.Cash

	for _, slot := range s.SlotCapital {
		total += slot
	}

	for _, position := range s.Positions {
		total += position.RealizedPnL
	}

	return total + s.UnrealizedPnL(prices)
}
