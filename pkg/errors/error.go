// Package errors carries the coded errors of the paper trading engine.
//
// Every failure that crosses a package boundary is an *Error with an
// ErrorCode. The engine keys its handling on the code alone: order
// rejections become Rejection records, bad ticks become anomalies and
// configuration errors stop the run before the first event.
//
// Code ranges:
//   - 1-99: unknown
//   - 100-199: configuration, parameters and order fields
//   - 200-299: lot size files, DuckDB queries and other lookups
//   - 400-499: strategy registry and decisions
//   - 500-599: rejected orders (lots, capital, position state, entry window)
//   - 600-699: engine construction and run lifecycle
//   - 700-799: feeds, tick parsing and late data
//   - 800-899: host callbacks
//
// Typical use:
//
//	return errors.Newf(errors.ErrCodeBelowMinimumLotSize, "%s: %d is below one lot of %d", key, desired, lot)
//
//	if errors.IsInvalidTransition(err) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error is a coded engine error. Message describes the failure at the point
// it happened; Cause is the library or lower level error, if any.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New returns an Error without a cause.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap attaches code and message to cause. The outer code wins in GetCode.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error formats as "[code] message" followed by ": cause" when wrapped.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is forwards to the standard library so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As forwards to the standard library so callers need a single import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode returns the code of the outermost *Error in err's chain, or
// ErrCodeUnknown for plain errors and nil.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode reports whether GetCode(err) is code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsInvalidTransition reports whether err rejects an order because of the
// position state of its key. NoOpenPosition and DuplicateFill are specialised
// forms of InvalidTransition.
func IsInvalidTransition(err error) bool {
	switch GetCode(err) {
	case ErrCodeInvalidTransition, ErrCodeNoOpenPosition, ErrCodeDuplicateFill:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether err is a per-order or per-event condition the
// engine records and continues past. Configuration errors are never recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	code := GetCode(err)

	switch {
	case code >= ErrCodeOrderFailed && code < ErrCodeEngineInitFailed:
		return true
	case code == ErrCodeOutOfOrderData, code == ErrCodeFeedDisconnected, code == ErrCodeMarketDataParseFailed:
		return true
	default:
		return false
	}
}

// InsufficientDataError is returned by the indicators when a close series is
// shorter than their window. Strategies treat it as "not ready yet" rather
// than as a decision failure.
type InsufficientDataError struct {
	Required   int
	Actual     int
	Instrument string // empty when the caller has no instrument at hand
	Message    string
}

func NewInsufficientDataError(required, actual int, instrument, message string) *InsufficientDataError {
	return &InsufficientDataError{
		Required:   required,
		Actual:     actual,
		Instrument: instrument,
		Message:    message,
	}
}

func NewInsufficientDataErrorf(required, actual int, instrument, format string, args ...any) *InsufficientDataError {
	return &InsufficientDataError{
		Required:   required,
		Actual:     actual,
		Instrument: instrument,
		Message:    fmt.Sprintf(format, args...),
	}
}

func (e *InsufficientDataError) Error() string {
	return e.Message
}

// IsInsufficientDataError reports whether err's chain holds an
// InsufficientDataError.
func IsInsufficientDataError(err error) bool {
	var insufficientErr *InsufficientDataError

	return errors.As(err, &insufficientErr)
}
