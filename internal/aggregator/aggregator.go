// Package aggregator turns raw price events into closed OHLCV bars.
//
// Every configured resolution is built independently from the raw stream, so
// a coarse bar is exact and never reconstructed from finer bars. A bucket is
// closed either by an event that belongs to a later bucket or by the clock
// through CloseDue. Once closed a bucket never reopens: late events for it are
// dropped and reported as OutOfOrderData.
package aggregator

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// DefaultHistorySize is the number of closed bars kept per resolution and instrument.
const DefaultHistorySize = 500

// BarAggregator is not safe for concurrent use. The engine confines it to
// a single goroutine.
type BarAggregator struct {
	resolutions []types.Resolution
	forming     map[types.Resolution]map[string]*types.Bar
	// lastClosed is the close time of the latest closed bar per instrument.
	lastClosed map[types.Resolution]map[string]time.Time
	// watermark is the latest boundary passed to CloseDue.
	watermark map[types.Resolution]time.Time
	history   map[types.Resolution]*BarHistory
	closed    map[types.Resolution]int
}

// NewBarAggregator creates an aggregator for resolutions. historySize bounds
// the closed bars kept per resolution and instrument; a non-positive value
// uses DefaultHistorySize.
func NewBarAggregator(resolutions []types.Resolution, historySize int) (*BarAggregator, error) {
	if len(resolutions) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "at least one resolution is required")
	}

	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	sorted := slices.Clone(resolutions)
	types.SortResolutions(sorted)
	sorted = slices.Compact(sorted)

	a := &BarAggregator{
		resolutions: sorted,
		forming:     make(map[types.Resolution]map[string]*types.Bar, len(sorted)),
		lastClosed:  make(map[types.Resolution]map[string]time.Time, len(sorted)),
		watermark:   make(map[types.Resolution]time.Time, len(sorted)),
		history:     make(map[types.Resolution]*BarHistory, len(sorted)),
		closed:      make(map[types.Resolution]int, len(sorted)),
	}

	for _, res := range sorted {
		if !res.IsValid() {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported resolution %q", res)
		}

		a.forming[res] = make(map[string]*types.Bar)
		a.lastClosed[res] = make(map[string]time.Time)
		a.history[res] = NewBarHistory(historySize)
	}

	return a, nil
}

// Resolutions returns the configured resolutions from finest to coarsest.
func (a *BarAggregator) Resolutions() []types.Resolution {
	return slices.Clone(a.resolutions)
}

// Ingest adds event to the in-progress bucket of every resolution and returns
// the bars the event closed. When the event is late for some resolutions it
// is still applied to the others, and the returned error carries
// ErrCodeOutOfOrderData naming the resolutions that dropped it.
func (a *BarAggregator) Ingest(event types.PriceEvent) ([]types.Bar, error) {
	if event.Instrument == "" || event.Price <= 0 || event.Volume < 0 || event.Time.IsZero() {
		return nil, errors.Newf(errors.ErrCodeMarketDataParseFailed,
			"malformed price event for %q at %s", event.Instrument, event.Time)
	}

	var (
		closed []types.Bar
		late   []string
	)

	for _, res := range a.resolutions {
		openTime := res.Truncate(event.Time)

		if a.isClosed(res, event.Instrument, openTime) {
			late = append(late, string(res))

			continue
		}

		bar := a.forming[res][event.Instrument]
		if bar != nil {
			switch {
			case openTime.Before(bar.OpenTime):
				late = append(late, string(res))

				continue
			case openTime.After(bar.OpenTime):
				closed = append(closed, a.close(res, event.Instrument))
				bar = nil
			}
		}

		if bar == nil {
			a.forming[res][event.Instrument] = &types.Bar{
				Instrument: event.Instrument,
				Resolution: res,
				OpenTime:   openTime,
				Open:       event.Price,
				High:       event.Price,
				Low:        event.Price,
				Close:      event.Price,
				Volume:     event.Volume,
			}

			continue
		}

		bar.High = max(bar.High, event.Price)
		bar.Low = min(bar.Low, event.Price)
		bar.Close = event.Price
		bar.Volume += event.Volume
	}

	if len(late) > 0 {
		return closed, errors.Newf(errors.ErrCodeOutOfOrderData,
			"late event for %s at %s dropped for resolutions [%s]",
			event.Instrument, event.Time.Format(time.RFC3339), strings.Join(late, ","))
	}

	return closed, nil
}

// CloseDue closes every in-progress bucket whose close time is at or before
// boundary, finest resolution first and instruments in name order.
func (a *BarAggregator) CloseDue(boundary time.Time) []types.Bar {
	var closed []types.Bar

	for _, res := range a.resolutions {
		if wm, ok := a.watermark[res]; !ok || boundary.After(wm) {
			a.watermark[res] = boundary
		}

		for _, instrument := range sortedInstruments(a.forming[res]) {
			if !a.forming[res][instrument].CloseTime().After(boundary) {
				closed = append(closed, a.close(res, instrument))
			}
		}
	}

	return closed
}

// Flush closes every in-progress bucket regardless of the clock.
func (a *BarAggregator) Flush() []types.Bar {
	var closed []types.Bar

	for _, res := range a.resolutions {
		for _, instrument := range sortedInstruments(a.forming[res]) {
			closed = append(closed, a.close(res, instrument))
		}
	}

	return closed
}

// Snapshot builds a MarketSnapshot from copies of the closed bars with
// OpenTime <= ts, plus the in-progress buckets opened before ts. A bucket
// opened at ts only holds ticks from ts onwards and is left out.
func (a *BarAggregator) Snapshot(ts time.Time, primary types.Resolution) types.MarketSnapshot {
	series := make(map[types.Resolution]map[string]types.Series, len(a.resolutions))

	for _, res := range a.resolutions {
		instruments := a.history[res].Instruments()
		for instrument := range a.forming[res] {
			instruments = append(instruments, instrument)
		}

		sort.Strings(instruments)
		instruments = slices.Compact(instruments)

		byInstrument := make(map[string]types.Series, len(instruments))

		for _, instrument := range instruments {
			var s types.Series

			bars := a.history[res].Until(instrument, ts)
			if len(bars) > 0 {
				s.Current = bars[len(bars)-1]
				s.History = bars[:len(bars)-1]
			}

			if bar, ok := a.forming[res][instrument]; ok && bar.OpenTime.Before(ts) {
				s.Forming = optional.Some(*bar)
			}

			if s.HasClosed() || s.Forming.IsSome() {
				byInstrument[instrument] = s
			}
		}

		if len(byInstrument) > 0 {
			series[res] = byInstrument
		}
	}

	return types.NewMarketSnapshot(ts, primary, series)
}

// History returns the closed bar window of res.
func (a *BarAggregator) History(res types.Resolution) (*BarHistory, bool) {
	h, ok := a.history[res]

	return h, ok
}

// Forming returns a copy of the in-progress bucket of instrument at res.
func (a *BarAggregator) Forming(res types.Resolution, instrument string) (types.Bar, bool) {
	bar, ok := a.forming[res][instrument]
	if !ok {
		return types.Bar{}, false //nolint:exhaustruct // zero value for not found
	}

	return *bar, true
}

// ClosedCount returns how many bars of res have been closed so far.
func (a *BarAggregator) ClosedCount(res types.Resolution) int {
	return a.closed[res]
}

func (a *BarAggregator) isClosed(res types.Resolution, instrument string, openTime time.Time) bool {
	closeTime := res.Next(openTime)

	if wm, ok := a.watermark[res]; ok && !closeTime.After(wm) {
		return true
	}

	if last, ok := a.lastClosed[res][instrument]; ok && !closeTime.After(last) {
		return true
	}

	return false
}

func (a *BarAggregator) close(res types.Resolution, instrument string) types.Bar {
	bar := *a.forming[res][instrument]
	delete(a.forming[res], instrument)

	a.lastClosed[res][instrument] = bar.CloseTime()
	a.history[res].Add(bar)
	a.closed[res]++

	return bar
}

func sortedInstruments(m map[string]*types.Bar) []string {
	instruments := make([]string, 0, len(m))
	for instrument := range m {
		instruments = append(instruments, instrument)
	}

	sort.Strings(instruments)

	return instruments
}
