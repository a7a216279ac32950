package types

import "github.com/moznion/go-optional"

// Signal is a strategy's request to enter or exit one key.
type Signal struct {
	Key  PositionKey  `json:"key" yaml:"key"`
	Side PurchaseType `json:"side" yaml:"side"`
	// Quantity optionally fixes the order size. A BUY without it is sized from
	// the key's capital; a SELL without it exits the whole position.
	Quantity optional.Option[int64] `json:"quantity" yaml:"quantity"`
	Reason   string                 `json:"reason" yaml:"reason"`
}

// NewBuySignal creates a BUY sized from the key's capital.
func NewBuySignal(key PositionKey, reason string) Signal {
	return Signal{
		Key:      key,
		Side:     PurchaseTypeBuy,
		Quantity: optional.None[int64](),
		Reason:   reason,
	}
}

// NewSellSignal creates a SELL that exits the whole position.
func NewSellSignal(key PositionKey, reason string) Signal {
	return Signal{
		Key:      key,
		Side:     PurchaseTypeSell,
		Quantity: optional.None[int64](),
		Reason:   reason,
	}
}

// NewPartialSellSignal creates a SELL for at most quantity units.
func NewPartialSellSignal(key PositionKey, quantity int64, reason string) Signal {
	return Signal{
		Key:      key,
		Side:     PurchaseTypeSell,
		Quantity: optional.Some(quantity),
		Reason:   reason,
	}
}
