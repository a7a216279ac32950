// Package session gates trading by the exchange clock. The Controller derives
// the market state from wall clock time, decides when new entries are allowed
// and synthesizes the intraday square-off at the cutoff.
package session

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

// Mode selects whether positions are squared off every day.
type Mode string

const (
	ModeIntraday   Mode = "intraday"
	ModePositional Mode = "positional"
)

// State is the market state at a point in time.
type State int

const (
	StateClosed State = iota
	StatePreOpen
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StatePreOpen:
		return "pre_open"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const dayLayout = "2006-01-02"

// Config holds the session times as "HH:MM" strings in the exchange timezone.
type Config struct {
	Mode           Mode   `yaml:"mode" json:"mode" jsonschema:"enum=intraday,enum=positional,default=intraday" validate:"required,oneof=intraday positional"`
	Timezone       string `yaml:"timezone" json:"timezone" jsonschema:"default=Asia/Kolkata" validate:"required"`
	PreOpen        string `yaml:"pre_open" json:"pre_open" jsonschema:"default=09:00" validate:"required"`
	MarketOpen     string `yaml:"market_open" json:"market_open" jsonschema:"default=09:15" validate:"required"`
	MarketClose    string `yaml:"market_close" json:"market_close" jsonschema:"default=15:30" validate:"required"`
	IntradayCutoff string `yaml:"intraday_cutoff" json:"intraday_cutoff" jsonschema:"default=15:14" validate:"required"`
	// EntryStart and EntryEnd narrow the window in which BUYs are accepted.
	EntryStart string `yaml:"entry_start,omitempty" json:"entry_start,omitempty"`
	EntryEnd   string `yaml:"entry_end,omitempty" json:"entry_end,omitempty"`
}

// DefaultConfig returns the NSE cash market session in intraday mode.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeIntraday,
		Timezone:       "Asia/Kolkata",
		PreOpen:        "09:00",
		MarketOpen:     "09:15",
		MarketClose:    "15:30",
		IntradayCutoff: "15:14",
		EntryStart:     "",
		EntryEnd:       "",
	}
}

// Transition describes the result of one Advance call.
type Transition struct {
	From State
	To   State
	Time time.Time
	// Day is the exchange-local trading day of Time.
	Day string
	// SquareOffDays lists trading days whose cutoff was reached by this call.
	SquareOffDays []string
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// ForceExit reports whether forced exits are due.
func (t Transition) ForceExit() bool {
	return len(t.SquareOffDays) > 0
}

// Controller tracks the session state and the keys opened each trading day.
type Controller struct {
	mode        Mode
	location    *time.Location
	preOpen     TimeOfDay
	marketOpen  TimeOfDay
	marketClose TimeOfDay
	cutoff      TimeOfDay
	entryStart  optional.Option[TimeOfDay]
	entryEnd    optional.Option[TimeOfDay]

	mu         sync.Mutex
	state      State
	day        string
	squaredOff map[string]bool
	pending    []string
	entries    map[string]map[types.PositionKey]time.Time
	forced     map[string]map[types.PositionKey]bool
	log        *logger.Logger
}

// NewController validates cfg and creates a Controller. Every failure is an
// InvalidConfiguration error.
func NewController(cfg Config, log *logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.Mode != ModeIntraday && cfg.Mode != ModePositional {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported session mode %q", cfg.Mode)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid session timezone %q", cfg.Timezone)
	}

	times := map[string]string{
		"pre_open":        cfg.PreOpen,
		"market_open":     cfg.MarketOpen,
		"market_close":    cfg.MarketClose,
		"intraday_cutoff": cfg.IntradayCutoff,
	}

	parsed := make(map[string]TimeOfDay, len(times))

	for name, value := range times {
		tod, err := ParseTimeOfDay(value)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid %s", name)
		}

		parsed[name] = tod
	}

	controller := &Controller{
		mode:        cfg.Mode,
		location:    location,
		preOpen:     parsed["pre_open"],
		marketOpen:  parsed["market_open"],
		marketClose: parsed["market_close"],
		cutoff:      parsed["intraday_cutoff"],
		entryStart:  optional.None[TimeOfDay](),
		entryEnd:    optional.None[TimeOfDay](),
		mu:          sync.Mutex{},
		state:       StateClosed,
		day:         "",
		squaredOff:  make(map[string]bool),
		pending:     nil,
		entries:     make(map[string]map[types.PositionKey]time.Time),
		forced:      make(map[string]map[types.PositionKey]bool),
		log:         log,
	}

	if controller.marketOpen.Before(controller.preOpen) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"market_open %s is before pre_open %s", controller.marketOpen, controller.preOpen)
	}

	if !controller.marketOpen.Before(controller.marketClose) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"market_close %s must be after market_open %s", controller.marketClose, controller.marketOpen)
	}

	if !controller.marketOpen.Before(controller.cutoff) || controller.marketClose.Before(controller.cutoff) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"intraday_cutoff %s must be after market_open %s and not after market_close %s",
			controller.cutoff, controller.marketOpen, controller.marketClose)
	}

	if cfg.EntryStart != "" {
		tod, err := ParseTimeOfDay(cfg.EntryStart)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid entry_start", err)
		}

		controller.entryStart = optional.Some(tod)
	}

	if cfg.EntryEnd != "" {
		tod, err := ParseTimeOfDay(cfg.EntryEnd)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid entry_end", err)
		}

		controller.entryEnd = optional.Some(tod)
	}

	if controller.entryStart.IsSome() && controller.entryEnd.IsSome() &&
		!controller.entryStart.Unwrap().Before(controller.entryEnd.Unwrap()) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"entry_start %s must be before entry_end %s", controller.entryStart.Unwrap(), controller.entryEnd.Unwrap())
	}

	return controller, nil
}

// Mode returns the configured mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Location returns the exchange timezone.
func (c *Controller) Location() *time.Location {
	return c.location
}

// Cutoff returns the intraday cutoff on the trading day of ts.
func (c *Controller) Cutoff(ts time.Time) time.Time {
	return c.cutoff.On(ts.In(c.location))
}

// State returns the state computed by the last Advance.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// StateAt derives the state at ts without changing the controller.
func (c *Controller) StateAt(ts time.Time) State {
	elapsed := minuteOfDay(ts.In(c.location))

	switch {
	case elapsed < c.preOpen.offset():
		return StateClosed
	case elapsed < c.marketOpen.offset():
		return StatePreOpen
	case c.mode == ModeIntraday && elapsed < c.cutoff.offset():
		return StateOpen
	case c.mode == ModeIntraday && elapsed < c.marketClose.offset():
		return StateClosing
	case elapsed < c.marketClose.offset():
		return StateOpen
	default:
		return StateClosed
	}
}

// Advance moves the controller to now. In intraday mode a trading day whose
// cutoff has been reached is reported in SquareOffDays exactly once, even
// when now jumps past the Closing window or into a later day.
func (c *Controller) Advance(now time.Time) Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := now.In(c.location)
	day := local.Format(dayLayout)
	next := c.StateAt(local)

	transition := Transition{
		From:          c.state,
		To:            next,
		Time:          now,
		Day:           day,
		SquareOffDays: nil,
	}

	if c.mode == ModeIntraday {
		if c.day != "" && c.day != day && (c.state == StatePreOpen || c.state == StateOpen) {
			c.markSquareOff(c.day)
		}

		if minuteOfDay(local) >= c.cutoff.offset() && c.day != "" {
			c.markSquareOff(day)
		}

		if next == StateClosing {
			c.markSquareOff(day)
		}

		transition.SquareOffDays = append(transition.SquareOffDays, c.pending...)
	}

	if transition.Changed() {
		c.log.Debug("session state changed",
			zap.Stringer("from", transition.From),
			zap.Stringer("to", transition.To),
			zap.String("day", day),
			zap.Time("time", now),
		)
	}

	c.state = next
	c.day = day

	return transition
}

// markSquareOff queues day for forced exits unless its cutoff was already
// processed.
func (c *Controller) markSquareOff(day string) {
	if c.squaredOff[day] {
		return
	}

	c.squaredOff[day] = true
	c.pending = append(c.pending, day)
}

// AllowEntry reports whether a BUY may be filled at ts: the market is Open
// and ts is inside the optional entry window.
func (c *Controller) AllowEntry(ts time.Time) bool {
	if c.StateAt(ts) != StateOpen {
		return false
	}

	elapsed := minuteOfDay(ts.In(c.location))

	if c.entryStart.IsSome() && elapsed < c.entryStart.Unwrap().offset() {
		return false
	}

	if c.entryEnd.IsSome() && elapsed >= c.entryEnd.Unwrap().offset() {
		return false
	}

	return true
}

// RecordEntry notes that key was opened at ts.
func (c *Controller) RecordEntry(key types.PositionKey, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := ts.In(c.location).Format(dayLayout)

	keys, ok := c.entries[day]
	if !ok {
		keys = make(map[types.PositionKey]time.Time)
		c.entries[day] = keys
	}

	keys[key] = ts
}

// ForcedExits returns a full SELL for every open position opened on a trading
// day whose square-off is pending, sorted by key. Each key is forced at most
// once per day. Pending days are consumed by the call.
func (c *Controller) ForcedExits(positions map[types.PositionKey]types.Position, now time.Time) []types.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIntraday || len(c.pending) == 0 {
		return nil
	}

	var signals []types.Signal

	for _, key := range types.SortedPositionKeys(positions) {
		position := positions[key]
		if !position.IsOpen() {
			continue
		}

		openDay := position.OpenTime.In(c.location).Format(dayLayout)

		for _, day := range c.pending {
			if _, opened := c.entries[day][key]; !opened && openDay != day {
				continue
			}

			forced, ok := c.forced[day]
			if !ok {
				forced = make(map[types.PositionKey]bool)
				c.forced[day] = forced
			}

			if forced[key] {
				continue
			}

			forced[key] = true

			signals = append(signals, types.NewSellSignal(key, types.OrderReasonIntradaySquareOff))

			break
		}
	}

	c.log.Info("intraday square-off",
		zap.Strings("days", c.pending),
		zap.Int("positions", len(signals)),
		zap.Time("time", now),
	)

	for _, day := range c.pending {
		delete(c.entries, day)
	}

	c.pending = nil

	return signals
}

// ShutdownExits returns a full SELL for every open position when the mode is
// intraday, sorted by key. Positional runs keep their positions.
func (c *Controller) ShutdownExits(positions map[types.PositionKey]types.Position) []types.Signal {
	if c.mode != ModeIntraday {
		return nil
	}

	var signals []types.Signal

	for _, key := range types.SortedPositionKeys(positions) {
		if position := positions[key]; position.IsOpen() {
			signals = append(signals, types.NewSellSignal(key, types.OrderReasonShutdown))
		}
	}

	return signals
}
