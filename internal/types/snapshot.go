package types

import (
	"slices"
	"sort"
	"time"

	"github.com/moznion/go-optional"
)

// Series is the closed-bar view of one instrument at one resolution.
type Series struct {
	// Current is the most recently closed bar. It is the zero Bar when only
	// Forming is known.
	Current Bar `json:"current"`
	// History holds the closed bars before Current, oldest first.
	History []Bar `json:"history"`
	// Forming is the in-progress bucket built from events up to the snapshot
	// time. Strategies use it for values known at the bucket's open, such as
	// the daily open.
	Forming optional.Option[Bar] `json:"forming"`
}

// HasClosed reports whether the series holds at least one closed bar.
func (s Series) HasClosed() bool {
	return !s.Current.OpenTime.IsZero()
}

// Bars returns History followed by Current.
func (s Series) Bars() []Bar {
	if !s.HasClosed() {
		return nil
	}

	bars := make([]Bar, 0, len(s.History)+1)
	bars = append(bars, s.History...)

	return append(bars, s.Current)
}

// Closes returns the close prices of Bars in order.
func (s Series) Closes() []float64 {
	bars := s.Bars()
	closes := make([]float64, len(bars))

	for i, bar := range bars {
		closes[i] = bar.Close
	}

	return closes
}

// Len returns the number of closed bars in the series including Current.
func (s Series) Len() int {
	if !s.HasClosed() {
		return 0
	}

	return len(s.History) + 1
}

// MarketSnapshot is a read-only view of closed bars for one decision step.
// The engine builds it from copies, so a strategy holding on to it never sees
// later engine updates and cannot affect engine state.
type MarketSnapshot struct {
	Time    time.Time
	Primary Resolution
	series  map[Resolution]map[string]Series
}

// NewMarketSnapshot creates a snapshot. The series map is owned by the snapshot
// after the call.
func NewMarketSnapshot(ts time.Time, primary Resolution, series map[Resolution]map[string]Series) MarketSnapshot {
	if series == nil {
		series = make(map[Resolution]map[string]Series)
	}

	return MarketSnapshot{
		Time:    ts,
		Primary: primary,
		series:  series,
	}
}

// Series returns the closed bars of instrument at res.
func (s MarketSnapshot) Series(res Resolution, instrument string) (Series, bool) {
	byInstrument, ok := s.series[res]
	if !ok {
		return Series{}, false
	}

	series, ok := byInstrument[instrument]
	if !ok {
		return Series{}, false
	}

	forming := optional.None[Bar]()
	if series.Forming.IsSome() {
		forming = optional.Some(series.Forming.Unwrap())
	}

	return Series{
		Current: series.Current,
		History: slices.Clone(series.History),
		Forming: forming,
	}, true
}

// Resolutions returns the resolutions present in the snapshot, finest first.
func (s MarketSnapshot) Resolutions() []Resolution {
	resolutions := make([]Resolution, 0, len(s.series))
	for res := range s.series {
		resolutions = append(resolutions, res)
	}

	SortResolutions(resolutions)

	return resolutions
}

// Instruments returns the instruments with a series at res, sorted.
func (s MarketSnapshot) Instruments(res Resolution) []string {
	byInstrument := s.series[res]

	instruments := make([]string, 0, len(byInstrument))
	for instrument := range byInstrument {
		instruments = append(instruments, instrument)
	}

	sort.Strings(instruments)

	return instruments
}

// BarsWithin returns the closed bars of instrument at res that fall inside span.
// It is used to audit a coarse bar with the finer bars that built it.
func (s MarketSnapshot) BarsWithin(res Resolution, instrument string, span Bar) []Bar {
	series, ok := s.Series(res, instrument)
	if !ok {
		return nil
	}

	var bars []Bar

	for _, bar := range series.Bars() {
		if !bar.OpenTime.Before(span.OpenTime) && !bar.CloseTime().After(span.CloseTime()) {
			bars = append(bars, bar)
		}
	}

	return bars
}

// LastPrice returns the close of the latest closed bar for instrument across
// all resolutions. Ties prefer the primary resolution.
func (s MarketSnapshot) LastPrice(instrument string) (float64, bool) {
	var (
		latest Bar
		found  bool
	)

	for _, res := range s.Resolutions() {
		series, ok := s.series[res][instrument]
		if !ok || !series.HasClosed() {
			continue
		}

		bar := series.Current

		switch {
		case !found:
			latest, found = bar, true
		case bar.CloseTime().After(latest.CloseTime()):
			latest = bar
		case bar.CloseTime().Equal(latest.CloseTime()) && res == s.Primary:
			latest = bar
		}
	}

	return latest.Close, found
}

// Prices returns the latest price of every instrument present in the snapshot.
func (s MarketSnapshot) Prices() map[string]float64 {
	prices := make(map[string]float64)

	for _, byInstrument := range s.series {
		for instrument := range byInstrument {
			if _, done := prices[instrument]; done {
				continue
			}

			if price, ok := s.LastPrice(instrument); ok {
				prices[instrument] = price
			}
		}
	}

	return prices
}
