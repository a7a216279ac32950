package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable fill record.
type Trade struct {
	TradeID   string       `yaml:"trade_id" json:"trade_id"`
	OrderID   string       `yaml:"order_id" json:"order_id"`
	RunID     string       `yaml:"run_id" json:"run_id"`
	Key       PositionKey  `yaml:"key" json:"key"`
	Side      PurchaseType `yaml:"side" json:"side"`
	Quantity  int64        `yaml:"quantity" json:"quantity"`
	Price     float64      `yaml:"price" json:"price"`
	Timestamp time.Time    `yaml:"timestamp" json:"timestamp"`
	// RealizedPnL is the profit of a SELL against the average entry price.
	// For example, holding 100 at an average of 100.0 and selling 50 at 110.0
	// realizes (110.0-100.0)*50 = 500. It is always 0 for a BUY.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl"`
	Reason      string  `yaml:"reason" json:"reason"`
	// EntryTime is the open time of the position a SELL reduces.
	EntryTime time.Time `yaml:"entry_time" json:"entry_time"`
	// ClosesPosition is true when a SELL brings the key back to zero.
	ClosesPosition bool `yaml:"closes_position" json:"closes_position"`
}

// Value returns quantity times price.
func (t Trade) Value() float64 {
	return decimal.NewFromInt(t.Quantity).Mul(decimal.NewFromFloat(t.Price)).InexactFloat64()
}

// HoldingTime returns how long the position was held before this SELL.
func (t Trade) HoldingTime() time.Duration {
	if t.Side != PurchaseTypeSell || t.EntryTime.IsZero() {
		return 0
	}

	return t.Timestamp.Sub(t.EntryTime)
}
