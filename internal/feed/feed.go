// Package feed provides the price event sources consumed by the engine:
// finite replay sequences and live streams.
package feed

import (
	"context"
	"iter"
	"slices"

	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

// Feed yields price events in arrival order. Errors are yielded alongside a
// zero event and do not end the stream; the stream ends when the source is
// exhausted or ctx is done.
type Feed interface {
	Stream(ctx context.Context) iter.Seq2[types.PriceEvent, error]
}

// Counter is implemented by finite feeds that know their length up front.
type Counter interface {
	Count() (int, error)
}

// SliceFeed replays a fixed slice of events.
type SliceFeed struct {
	events []types.PriceEvent
}

// NewSliceFeed creates a feed over a copy of events.
func NewSliceFeed(events []types.PriceEvent) *SliceFeed {
	return &SliceFeed{events: slices.Clone(events)}
}

// Count implements Counter.
func (f *SliceFeed) Count() (int, error) {
	return len(f.events), nil
}

// Stream implements Feed.
func (f *SliceFeed) Stream(ctx context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(yield func(types.PriceEvent, error) bool) {
		for _, event := range f.events {
			if ctx.Err() != nil {
				return
			}

			if !yield(event, nil) {
				return
			}
		}
	}
}
