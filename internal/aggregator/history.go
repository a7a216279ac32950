package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

// BarHistory stores closed bars of one resolution using a sliding window.
// It keeps a fixed number of bars per instrument and evicts the oldest bar
// once the window is full.
type BarHistory struct {
	maxSize int
	// bars per instrument, ordered by open time (oldest first)
	bars map[string][]types.Bar
	mu   sync.RWMutex
}

// NewBarHistory creates a BarHistory keeping at most maxSize bars per instrument.
func NewBarHistory(maxSize int) *BarHistory {
	return &BarHistory{
		maxSize: maxSize,
		bars:    make(map[string][]types.Bar),
		mu:      sync.RWMutex{},
	}
}

// Add stores a closed bar. A bar with the open time of an existing one
// replaces it.
func (h *BarHistory) Add(bar types.Bar) {
	if h.maxSize <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	bars := h.bars[bar.Instrument]

	// Fast path: chronological append
	if len(bars) == 0 || bar.OpenTime.After(bars[len(bars)-1].OpenTime) {
		bars = append(bars, bar)
		if len(bars) > h.maxSize {
			bars = bars[len(bars)-h.maxSize:]
		}

		h.bars[bar.Instrument] = bars

		return
	}

	idx := sort.Search(len(bars), func(i int) bool {
		return !bars[i].OpenTime.Before(bar.OpenTime)
	})

	if idx < len(bars) && bars[idx].OpenTime.Equal(bar.OpenTime) {
		bars[idx] = bar

		return
	}

	bars = append(bars, types.Bar{}) //nolint:exhaustruct // placeholder for slice expansion
	copy(bars[idx+1:], bars[idx:])
	bars[idx] = bar

	if len(bars) > h.maxSize {
		bars = bars[len(bars)-h.maxSize:]
	}

	h.bars[bar.Instrument] = bars
}

// Until returns a copy of the bars of instrument with OpenTime <= ts.
func (h *BarHistory) Until(instrument string, ts time.Time) []types.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bars := h.bars[instrument]

	end := sort.Search(len(bars), func(i int) bool {
		return bars[i].OpenTime.After(ts)
	})

	result := make([]types.Bar, end)
	copy(result, bars[:end])

	return result
}

// Last returns the most recent bar of instrument.
func (h *BarHistory) Last(instrument string) (types.Bar, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bars := h.bars[instrument]
	if len(bars) == 0 {
		return types.Bar{}, false //nolint:exhaustruct // zero value for not found
	}

	return bars[len(bars)-1], true
}

// Instruments returns every instrument with at least one bar.
func (h *BarHistory) Instruments() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	instruments := make([]string, 0, len(h.bars))
	for instrument, bars := range h.bars {
		if len(bars) > 0 {
			instruments = append(instruments, instrument)
		}
	}

	sort.Strings(instruments)

	return instruments
}

// Size returns the number of bars kept for instrument.
func (h *BarHistory) Size(instrument string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.bars[instrument])
}

// TotalSize returns the number of bars kept across all instruments.
func (h *BarHistory) TotalSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, bars := range h.bars {
		total += len(bars)
	}

	return total
}

// MaxSize returns the window size per instrument.
func (h *BarHistory) MaxSize() int {
	return h.maxSize
}
