package indicator

import "github.com/rxtech-lab/argo-papertrade/internal/types"

// ATR returns Wilder's average true range over bars. It needs period+1 bars:
// the first supplies the previous close for the first true range.
func ATR(bars []types.Bar, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}

	if err := checkLength(period+1, len(bars), "ATR"); err != nil {
		return 0, err
	}

	ranges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		ranges = append(ranges, TrueRange(bars[i], bars[i-1].Close, true))
	}

	atr := 0.0
	for _, tr := range ranges[:period] {
		atr += tr
	}

	atr /= float64(period)

	for _, tr := range ranges[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	return atr, nil
}
