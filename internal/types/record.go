package types

import (
	"time"

	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// Rejection records an order the OMS or ledger refused.
type Rejection struct {
	RunID     string           `json:"run_id" yaml:"run_id"`
	Key       PositionKey      `json:"key" yaml:"key"`
	Side      PurchaseType     `json:"side" yaml:"side"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Code      errors.ErrorCode `json:"code" yaml:"code"`
	Message   string           `json:"message" yaml:"message"`
	Reason    string           `json:"reason" yaml:"reason"`
}

// NewRejection builds a Rejection from a signal and the error that refused it.
func NewRejection(runID string, signal Signal, ts time.Time, err error) Rejection {
	return Rejection{
		RunID:     runID,
		Key:       signal.Key,
		Side:      signal.Side,
		Timestamp: ts,
		Code:      errors.GetCode(err),
		Message:   err.Error(),
		Reason:    signal.Reason,
	}
}

// Anomaly records a dropped or suspicious market event.
type Anomaly struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	Instrument string           `json:"instrument" yaml:"instrument"`
	Resolution Resolution       `json:"resolution" yaml:"resolution"`
	Timestamp  time.Time        `json:"timestamp" yaml:"timestamp"`
	Code       errors.ErrorCode `json:"code" yaml:"code"`
	Message    string           `json:"message" yaml:"message"`
}
