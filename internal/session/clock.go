package session

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// TimeOfDay is an exchange-local wall clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, errors.Wrapf(errors.ErrCodeInvalidSessionTime, err, "invalid session time %q", s)
	}

	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns the minutes elapsed since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns t on the calendar day of date in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	year, month, day := date.Date()

	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, date.Location())
}

// Before reports whether t is strictly earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Minutes() < other.Minutes()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// minuteOfDay returns the minutes since midnight of ts including the seconds
// fraction so that 15:13:59 stays before a 15:14 boundary.
func minuteOfDay(ts time.Time) time.Duration {
	year, month, day := ts.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, ts.Location())

	return ts.Sub(midnight)
}

func (t TimeOfDay) offset() time.Duration {
	return time.Duration(t.Minutes()) * time.Minute
}
