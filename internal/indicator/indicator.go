// Package indicator computes technical indicators over closed bars.
//
// All functions are pure: they read the values they are given, oldest first,
// and return an InsufficientDataError when the series is too short.
package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

func checkPeriod(period int) error {
	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidPeriod, "period must be a positive integer, got %d", period)
	}

	return nil
}

func checkLength(required, actual int, name string) error {
	if actual < required {
		return errors.NewInsufficientDataErrorf(required, actual, "", "%s requires %d values, got %d", name, required, actual)
	}

	return nil
}

// Closes extracts the close prices of bars.
func Closes(bars []types.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	return closes
}

// TrueRange returns the true range of bar given the close of the bar before it.
// The first bar of a series has no previous close and uses High-Low.
func TrueRange(bar types.Bar, prevClose float64, hasPrev bool) float64 {
	tr := bar.High - bar.Low
	if !hasPrev {
		return tr
	}

	return math.Max(tr, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}
