package strategy

import (
	"slices"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/indicator"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

const OpeningPriceCrossoverName = "opening_price_crossover"

// Exit reasons of OpeningPriceCrossover.
const (
	ReasonEntry    = "opening_price_entry"
	ReasonTarget1  = "target1"
	ReasonTarget2  = "target2"
	ReasonTarget3  = "target3"
	ReasonStopLoss = "stop_loss"
)

// OpeningPriceCrossoverParams configures OpeningPriceCrossover.
type OpeningPriceCrossoverParams struct {
	EMAFast           int     `yaml:"ema_fast" json:"ema_fast" jsonschema:"title=Fast EMA,minimum=1,default=9" validate:"gt=0"`
	EMASlow           int     `yaml:"ema_slow" json:"ema_slow" jsonschema:"title=Slow EMA,minimum=2,default=21" validate:"gtfield=EMAFast"`
	RR1               float64 `yaml:"rr1" json:"rr1" jsonschema:"title=First Target,description=Reward to risk of the first target,default=1" validate:"gt=0"`
	RR2               float64 `yaml:"rr2" json:"rr2" jsonschema:"title=Second Target,default=1.5" validate:"gtfield=RR1"`
	RR3               float64 `yaml:"rr3" json:"rr3" jsonschema:"title=Final Target,default=3" validate:"gtfield=RR2"`
	ExitPct1          float64 `yaml:"exit_pct1" json:"exit_pct1" jsonschema:"title=First Exit,description=Share of the entry quantity sold at the first target,minimum=0,maximum=1,default=0.5" validate:"gte=0,lte=1"`
	ExitPct2          float64 `yaml:"exit_pct2" json:"exit_pct2" jsonschema:"title=Second Exit,description=Share of the entry quantity sold at the second target,minimum=0,maximum=1,default=0.2" validate:"gte=0,lte=1"`
	ATRPeriod         int     `yaml:"atr_period" json:"atr_period" jsonschema:"title=ATR Period,minimum=1,default=14" validate:"gt=0"`
	ATRMultiplier     float64 `yaml:"atr_multiplier" json:"atr_multiplier" jsonschema:"title=ATR Multiplier,description=Stop distance in ATRs below the entry,minimum=0,default=1.5" validate:"gte=0"`
	CrossoverLookback int     `yaml:"crossover_lookback" json:"crossover_lookback" jsonschema:"title=Crossover Lookback,description=Primary bars averaged for the usual crossing count,minimum=1,default=10" validate:"gt=0"`
}

// DefaultOpeningPriceCrossoverParams returns the 9/21 EMA setup with targets
// at 1, 1.5 and 3 times the risk.
func DefaultOpeningPriceCrossoverParams() OpeningPriceCrossoverParams {
	return OpeningPriceCrossoverParams{
		EMAFast:           9,
		EMASlow:           21,
		RR1:               1.0,
		RR2:               1.5,
		RR3:               3.0,
		ExitPct1:          0.5,
		ExitPct2:          0.2,
		ATRPeriod:         14,
		ATRMultiplier:     1.5,
		CrossoverLookback: 10,
	}
}

// tradePlan is the exit plan of one open key.
type tradePlan struct {
	entry           float64
	stopLoss        float64
	target1         float64
	target2         float64
	target3         float64
	initialQuantity int64
	t1Hit           bool
	t2Hit           bool
}

// OpeningPriceCrossover is a long-only momentum strategy. It enters when the
// fast EMA is above the slow EMA, the primary candle is green, price is on the
// right side of the daily open and more finer bars than usual crossed the
// daily open inside the candle. Put options (symbols containing "PE") invert
// the daily open filter. Exits are tiered: part of the position at each of the
// first two targets, the rest at the third target or the stop.
type OpeningPriceCrossover struct {
	params  OpeningPriceCrossoverParams
	primary types.Resolution

	plans     map[types.PositionKey]*tradePlan
	crossings map[types.PositionKey][]int
}

// NewOpeningPriceCrossover is the Factory of OpeningPriceCrossover. The run
// must aggregate the primary resolution, 1d and 1m.
func NewOpeningPriceCrossover(opts Options) (Strategy, error) {
	params := DefaultOpeningPriceCrossoverParams()
	if err := decodeParams(OpeningPriceCrossoverName, opts.Params, &params); err != nil {
		return nil, err
	}

	primary := primaryOrDefault(opts.Primary)

	if opts.Resolutions != nil {
		for _, required := range []types.Resolution{primary, types.Resolution1d, types.Resolution1m} {
			if !slices.Contains(opts.Resolutions, required) {
				return nil, errors.Newf(errors.ErrCodeStrategyConfigError,
					"%s requires resolution %s", OpeningPriceCrossoverName, required)
			}
		}
	}

	return &OpeningPriceCrossover{
		params:    params,
		primary:   primary,
		plans:     make(map[types.PositionKey]*tradePlan),
		crossings: make(map[types.PositionKey][]int),
	}, nil
}

func (s *OpeningPriceCrossover) Name() string {
	return OpeningPriceCrossoverName
}

func (s *OpeningPriceCrossover) ContractVersion() string {
	return "1.0.0"
}

func (s *OpeningPriceCrossover) Decide(_ time.Time, snapshot types.MarketSnapshot, positions map[types.PositionKey]types.Position) ([]types.Signal, error) {
	var signals []types.Signal

	for _, instrument := range snapshot.Instruments(s.primary) {
		key := types.NewPositionKey(instrument, s.primary)

		series, _ := snapshot.Series(s.primary, instrument)
		if series.Len() < 2 {
			continue
		}

		position, held := positions[key]
		if held && position.IsOpen() {
			if signal, ok := s.exit(key, position, series.Current); ok {
				signals = append(signals, signal)
			}

			continue
		}

		delete(s.plans, key)

		if signal, ok := s.entry(key, snapshot, series); ok {
			signals = append(signals, signal)
		}
	}

	return signals, nil
}

// exit checks the plan of an open key against the latest bar. At most one
// signal is returned so that the key gets a single fill per step.
func (s *OpeningPriceCrossover) exit(key types.PositionKey, position types.Position, bar types.Bar) (types.Signal, bool) {
	plan, ok := s.plans[key]
	if !ok {
		return types.Signal{}, false
	}

	if plan.initialQuantity == 0 {
		plan.initialQuantity = position.Quantity
	}

	if bar.High >= plan.target3 {
		delete(s.plans, key)

		return types.NewSellSignal(key, ReasonTarget3), true
	}

	if bar.Low <= plan.stopLoss {
		delete(s.plans, key)

		return types.NewSellSignal(key, ReasonStopLoss), true
	}

	var (
		quantity int64
		reason   string
	)

	if !plan.t2Hit && bar.High >= plan.target2 {
		if q := int64(float64(plan.initialQuantity) * s.params.ExitPct2); q > 0 {
			quantity += q
			reason = ReasonTarget2
		}

		plan.t2Hit = true
	}

	if !plan.t1Hit && bar.High >= plan.target1 {
		if q := int64(float64(plan.initialQuantity) * s.params.ExitPct1); q > 0 {
			quantity += q
			if reason == "" {
				reason = ReasonTarget1
			}
		}

		plan.t1Hit = true
	}

	if quantity == 0 {
		return types.Signal{}, false
	}

	if quantity >= position.Quantity {
		delete(s.plans, key)

		return types.NewSellSignal(key, reason), true
	}

	return types.NewPartialSellSignal(key, quantity, reason), true
}

func (s *OpeningPriceCrossover) entry(key types.PositionKey, snapshot types.MarketSnapshot, series types.Series) (types.Signal, bool) {
	dailyOpen, ok := dailyOpen(snapshot, key.Instrument)
	if !ok {
		return types.Signal{}, false
	}

	closes := series.Closes()

	fast, err := indicator.EMA(closes, s.params.EMAFast)
	if err != nil {
		return types.Signal{}, false
	}

	slow, err := indicator.EMA(closes, s.params.EMASlow)
	if err != nil {
		return types.Signal{}, false
	}

	bars := series.Bars()
	latest := series.Current
	previous := bars[len(bars)-2]

	count := s.crossoverCount(snapshot, latest, dailyOpen)
	average := s.recordCrossings(key, count)

	emaBullish := fast > slow
	candleBullish := latest.IsBullish()
	spike := float64(count) > average

	sentiment := latest.Close > dailyOpen
	if strings.Contains(strings.ToUpper(key.Instrument), "PE") {
		sentiment = latest.Close < dailyOpen
	}

	if !emaBullish || !candleBullish || !sentiment || !spike {
		return types.Signal{}, false
	}

	// A short history leaves the ATR stop out and only the candle lows count.
	atr, err := indicator.ATR(bars, s.params.ATRPeriod)
	if err != nil {
		atr = 0
	}

	entry := latest.Close
	stop := min(latest.Low, previous.Low, entry-atr*s.params.ATRMultiplier)

	risk := entry - stop
	if risk <= 0 {
		return types.Signal{}, false
	}

	s.plans[key] = &tradePlan{
		entry:           entry,
		stopLoss:        stop,
		target1:         entry + risk*s.params.RR1,
		target2:         entry + risk*s.params.RR2,
		target3:         entry + risk*s.params.RR3,
		initialQuantity: 0,
		t1Hit:           false,
		t2Hit:           false,
	}

	return types.NewBuySignal(key, ReasonEntry), true
}

// crossoverCount counts the 1m bars inside the primary candle whose high is
// above the daily open.
func (s *OpeningPriceCrossover) crossoverCount(snapshot types.MarketSnapshot, candle types.Bar, dailyOpen float64) int {
	count := 0

	for _, bar := range snapshot.BarsWithin(types.Resolution1m, candle.Instrument, candle) {
		if bar.High > dailyOpen {
			count++
		}
	}

	return count
}

// recordCrossings appends count to the rolling window of key and returns the
// window average.
func (s *OpeningPriceCrossover) recordCrossings(key types.PositionKey, count int) float64 {
	window := append(s.crossings[key], count)
	if len(window) > s.params.CrossoverLookback {
		window = window[len(window)-s.params.CrossoverLookback:]
	}

	s.crossings[key] = window

	sum := 0
	for _, c := range window {
		sum += c
	}

	return float64(sum) / float64(len(window))
}

// dailyOpen returns the open of the trading day in progress, falling back to
// the latest closed daily bar.
func dailyOpen(snapshot types.MarketSnapshot, instrument string) (float64, bool) {
	daily, ok := snapshot.Series(types.Resolution1d, instrument)
	if !ok {
		return 0, false
	}

	if daily.Forming.IsSome() {
		if open := daily.Forming.Unwrap().Open; open > 0 {
			return open, true
		}
	}

	if daily.HasClosed() && daily.Current.Contains(snapshot.Time) {
		return daily.Current.Open, true
	}

	return 0, false
}
