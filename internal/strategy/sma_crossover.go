package strategy

import (
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/indicator"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

const SMACrossoverName = "sma_crossover"

// SMACrossoverParams configures SMACrossover.
type SMACrossoverParams struct {
	ShortWindow int `yaml:"short_window" json:"short_window" jsonschema:"title=Short Window,description=Bars in the short SMA,minimum=1,default=5" validate:"gt=0"`
	LongWindow  int `yaml:"long_window" json:"long_window" jsonschema:"title=Long Window,description=Bars in the long SMA,minimum=2,default=20" validate:"gtfield=ShortWindow"`
}

// DefaultSMACrossoverParams returns the 5/20 setup.
func DefaultSMACrossoverParams() SMACrossoverParams {
	return SMACrossoverParams{ShortWindow: 5, LongWindow: 20}
}

// SMACrossover buys when the short SMA of the primary closes crosses above the
// long SMA and sells the whole position when it crosses back below.
type SMACrossover struct {
	params  SMACrossoverParams
	primary types.Resolution
}

// NewSMACrossover is the Factory of SMACrossover.
func NewSMACrossover(opts Options) (Strategy, error) {
	params := DefaultSMACrossoverParams()
	if err := decodeParams(SMACrossoverName, opts.Params, &params); err != nil {
		return nil, err
	}

	return &SMACrossover{
		params:  params,
		primary: primaryOrDefault(opts.Primary),
	}, nil
}

func (s *SMACrossover) Name() string {
	return SMACrossoverName
}

func (s *SMACrossover) ContractVersion() string {
	return "1.0.0"
}

// Decide compares the SMAs of the latest closed bar with those of the bar
// before it.
func (s *SMACrossover) Decide(_ time.Time, snapshot types.MarketSnapshot, positions map[types.PositionKey]types.Position) ([]types.Signal, error) {
	var signals []types.Signal

	for _, instrument := range snapshot.Instruments(s.primary) {
		series, _ := snapshot.Series(s.primary, instrument)

		closes := series.Closes()
		if len(closes) < s.params.LongWindow+1 {
			continue
		}

		short, long, err := s.averages(closes)
		if err != nil {
			return nil, err
		}

		prevShort, prevLong, err := s.averages(closes[:len(closes)-1])
		if err != nil {
			return nil, err
		}

		key := types.NewPositionKey(instrument, s.primary)
		position, held := positions[key]
		held = held && position.IsOpen()

		switch {
		case !held && short > long && prevShort <= prevLong:
			signals = append(signals, types.NewBuySignal(key, "sma_bullish_cross"))
		case held && short < long && prevShort >= prevLong:
			signals = append(signals, types.NewSellSignal(key, "sma_bearish_cross"))
		}
	}

	return signals, nil
}

func (s *SMACrossover) averages(closes []float64) (float64, float64, error) {
	short, err := indicator.SMA(closes, s.params.ShortWindow)
	if err != nil {
		return 0, 0, err
	}

	long, err := indicator.SMA(closes, s.params.LongWindow)
	if err != nil {
		return 0, 0, err
	}

	return short, long, nil
}
