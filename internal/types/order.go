package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

type PurchaseType string

const (
	PurchaseTypeBuy  PurchaseType = "BUY"
	PurchaseTypeSell PurchaseType = "SELL"
)

const (
	// OrderReasonStrategy marks orders that came from a strategy signal.
	OrderReasonStrategy string = "strategy"
	// OrderReasonIntradaySquareOff marks exits synthesized at the intraday cutoff.
	OrderReasonIntradaySquareOff string = "intraday_square_off"
	// OrderReasonShutdown marks exits synthesized when a live intraday run stops.
	OrderReasonShutdown string = "shutdown"
)

// Order is the validated intent to trade one key. It only exists while the
// OMS sizes and fills it.
type Order struct {
	OrderID           string       `yaml:"order_id" json:"order_id" validate:"required,uuid"`
	Key               PositionKey  `yaml:"key" json:"key"`
	Side              PurchaseType `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	RequestedQuantity int64        `yaml:"requested_quantity" json:"requested_quantity" validate:"gte=0"`
	ReferencePrice    float64      `yaml:"reference_price" json:"reference_price" validate:"gt=0"`
	Timestamp         time.Time    `yaml:"timestamp" json:"timestamp" validate:"required"`
	// Reason is the reason for the order
	// like "strategy", "intraday_square_off" or "shutdown".
	Reason string `yaml:"reason" json:"reason" validate:"required"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}
