package indicator

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}

	if err := checkLength(period, len(values), "SMA"); err != nil {
		return 0, err
	}

	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}

	return sum / float64(period), nil
}

// EMA returns the exponential moving average of values. The first period
// values seed it with their simple average, then each later value is applied
// with alpha = 2/(period+1).
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}

	return series[len(series)-1], nil
}

// EMASeries returns the EMA after every value from index period-1 onward, so
// the result has len(values)-period+1 entries.
func EMASeries(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}

	if err := checkLength(period, len(values), "EMA"); err != nil {
		return nil, err
	}

	ema := 0.0
	for _, v := range values[:period] {
		ema += v
	}

	ema /= float64(period)

	// alpha = 2/(span+1), the same as pandas ewm with adjust=False
	alpha := 2.0 / float64(period+1)
	series := make([]float64, 0, len(values)-period+1)
	series = append(series, ema)

	for _, v := range values[period:] {
		ema = v*alpha + ema*(1-alpha)
		series = append(series, ema)
	}

	return series, nil
}
