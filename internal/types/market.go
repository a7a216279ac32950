package types

import (
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// Resolution is the bucket width used to aggregate price events into bars.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution5m  Resolution = "5m"
	Resolution15m Resolution = "15m"
	Resolution30m Resolution = "30m"
	Resolution60m Resolution = "60m"
	Resolution1d  Resolution = "1d"
)

// AllResolutions lists every supported resolution from finest to coarsest.
var AllResolutions = []Resolution{
	Resolution1m,
	Resolution5m,
	Resolution15m,
	Resolution30m,
	Resolution60m,
	Resolution1d,
}

var resolutionDurations = map[Resolution]time.Duration{
	Resolution1m:  time.Minute,
	Resolution5m:  5 * time.Minute,
	Resolution15m: 15 * time.Minute,
	Resolution30m: 30 * time.Minute,
	Resolution60m: time.Hour,
	Resolution1d:  24 * time.Hour,
}

// resolutionAliases maps broker style resolution names to the canonical ones.
var resolutionAliases = map[string]Resolution{
	"1":  Resolution1m,
	"5":  Resolution5m,
	"15": Resolution15m,
	"30": Resolution30m,
	"60": Resolution60m,
	"1h": Resolution60m,
	"d":  Resolution1d,
}

// ParseResolution parses a resolution name. Canonical names ("5m", "1d") and
// broker aliases ("5", "D", "1h") are accepted.
func ParseResolution(s string) (Resolution, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))

	r := Resolution(normalized)
	if r.IsValid() {
		return r, nil
	}

	if alias, ok := resolutionAliases[normalized]; ok {
		return alias, nil
	}

	return "", errors.Newf(errors.ErrCodeInvalidResolution, "unsupported resolution %q", s)
}

// IsValid reports whether r is one of the supported resolutions.
func (r Resolution) IsValid() bool {
	_, ok := resolutionDurations[r]

	return ok
}

// Duration returns the nominal bucket width of r.
func (r Resolution) Duration() time.Duration {
	return resolutionDurations[r]
}

// Truncate returns the left-aligned bucket boundary containing t. Buckets are
// aligned to local midnight of t's location, so 60m buckets start on local
// hours and 1d buckets on local days.
func (r Resolution) Truncate(t time.Time) time.Time {
	year, month, day := t.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, t.Location())

	if r == Resolution1d {
		return midnight
	}

	elapsed := t.Sub(midnight)

	return midnight.Add(elapsed - elapsed%r.Duration())
}

// Next returns the boundary that follows the bucket starting at openTime.
func (r Resolution) Next(openTime time.Time) time.Time {
	if r == Resolution1d {
		return openTime.AddDate(0, 0, 1)
	}

	return openTime.Add(r.Duration())
}

// Less orders resolutions from finest to coarsest.
func (r Resolution) Less(other Resolution) bool {
	return r.Duration() < other.Duration()
}

// SortResolutions sorts resolutions from finest to coarsest in place.
func SortResolutions(resolutions []Resolution) {
	slices.SortFunc(resolutions, func(a, b Resolution) int {
		return int(a.Duration() - b.Duration())
	})
}

// PriceEvent is a single trade print or candle close delivered by a feed.
type PriceEvent struct {
	Instrument string    `json:"instrument" yaml:"instrument" validate:"required"`
	Time       time.Time `json:"time" yaml:"time" validate:"required"`
	Price      float64   `json:"price" yaml:"price" validate:"gt=0"`
	Volume     float64   `json:"volume" yaml:"volume" validate:"gte=0"`
}

// Validate validates the PriceEvent struct.
func (e *PriceEvent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(e); err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid price event", err)
	}

	return nil
}

// Bar is an aggregated OHLCV record for one instrument over one bucket.
type Bar struct {
	Instrument string     `json:"instrument" yaml:"instrument"`
	Resolution Resolution `json:"resolution" yaml:"resolution"`
	OpenTime   time.Time  `json:"open_time" yaml:"open_time"`
	Open       float64    `json:"open" yaml:"open"`
	High       float64    `json:"high" yaml:"high"`
	Low        float64    `json:"low" yaml:"low"`
	Close      float64    `json:"close" yaml:"close"`
	Volume     float64    `json:"volume" yaml:"volume"`
}

// CloseTime returns the exclusive end of the bar's bucket.
func (b Bar) CloseTime() time.Time {
	return b.Resolution.Next(b.OpenTime)
}

// Contains reports whether t falls inside the bar's bucket.
func (b Bar) Contains(t time.Time) bool {
	return !t.Before(b.OpenTime) && t.Before(b.CloseTime())
}

// IsBullish reports whether the bar closed at or above its open.
func (b Bar) IsBullish() bool {
	return b.Close >= b.Open
}
