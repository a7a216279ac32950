package mocks

import (
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

// DataGenerator generates realistic price events for testing and benchmarking.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how price events are generated.
type GeneratorConfig struct {
	// Instrument is the traded instrument (e.g., "NIFTY", "RELIANCE")
	Instrument string
	// StartTime is the open of the first bar
	StartTime time.Time
	// Interval is the width of each generated bar
	Interval time.Duration
	// Count is the number of bars to generate
	Count int
	// TicksPerBar is the number of events inside each bar. The first event is
	// the bar's open and the last its close.
	TicksPerBar int
	// InitialPrice is the starting price
	InitialPrice float64
	// Volatility controls price movement (0.01 = 1% per bar)
	Volatility float64
	// Trend is the drift factor (-0.01 to 0.01 for bearish to bullish)
	Trend float64
	// VolumeBase is the average volume per event
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
}

// DefaultConfig returns a sensible default configuration: one trading
// session of 1 minute bars from the NSE open.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Instrument:     "TEST",
		StartTime:      time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC),
		Interval:       time.Minute,
		Count:          375,
		TicksPerBar:    4,
		InitialPrice:   100.0,
		Volatility:     0.002, // 0.2% per bar
		Trend:          0.0,   // neutral
		VolumeBase:     100,
		VolumeVariance: 0.3,
	}
}

// Generate creates price events based on the configuration.
// Bar closes follow a geometric Brownian motion model; the events inside a
// bar visit its open, an extreme on each side and its close.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.PriceEvent {
	ticks := max(config.TicksPerBar, 1)
	events := make([]types.PriceEvent, 0, config.Count*ticks)
	currentPrice := config.InitialPrice

	for i := 0; i < config.Count; i++ {
		open := currentPrice

		// Using Box-Muller transform for normal distribution
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		drift := config.Trend / float64(config.Count) // Distribute trend across bars

		closePrice := open * (1 + config.Volatility*z + drift)
		if closePrice <= 0 {
			closePrice = open * 0.99 // Prevent negative prices
		}

		high := math.Max(open, closePrice) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)

		low := math.Min(open, closePrice) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		if low <= 0 {
			low = math.Min(open, closePrice) * 0.99
		}

		barStart := config.StartTime.Add(time.Duration(i) * config.Interval)
		step := config.Interval / time.Duration(ticks)

		for j := 0; j < ticks; j++ {
			price := closePrice

			switch {
			case ticks == 1:
			case j == 0:
				price = open
			case j == ticks-1:
				price = closePrice
			case j%2 == 1:
				price = high
			default:
				price = low
			}

			volumeVariation := 1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance

			volume := config.VolumeBase * volumeVariation
			if volume < 0 {
				volume = config.VolumeBase * 0.1
			}

			events = append(events, types.PriceEvent{
				Instrument: config.Instrument,
				Time:       barStart.Add(time.Duration(j) * step),
				Price:      roundToDecimals(price, 2),
				Volume:     math.Round(volume),
			})
		}

		currentPrice = closePrice
	}

	return events
}

// GenerateMultiInstrument generates events for several instruments and merges
// them in time order. Events with the same time keep the instruments' order.
func (g *DataGenerator) GenerateMultiInstrument(instruments []string, baseConfig GeneratorConfig) []types.PriceEvent {
	var all []types.PriceEvent

	for _, instrument := range instruments {
		config := baseConfig
		config.Instrument = instrument
		// Vary initial price and volatility slightly per instrument
		config.InitialPrice = baseConfig.InitialPrice * (0.8 + g.rng.Float64()*0.4)
		config.Volatility = baseConfig.Volatility * (0.8 + g.rng.Float64()*0.4)

		all = append(all, g.Generate(config)...)
	}

	slices.SortStableFunc(all, func(a, b types.PriceEvent) int {
		return a.Time.Compare(b.Time)
	})

	return all
}

// GenerateSession is a convenience function for one session of 1 minute
// bars of instrument starting at start.
func GenerateSession(instrument string, start time.Time) []types.PriceEvent {
	gen := NewDataGenerator(42) // Fixed seed for reproducibility
	config := DefaultConfig()
	config.Instrument = instrument
	config.StartTime = start

	return gen.Generate(config)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(val*pow) / pow
}
