package engine

import (
	"encoding/json"
	"os"
	"reflect"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/strategy"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ParseConfig to fields left empty.
const (
	DefaultInitialCash        = 5000000
	DefaultCapitalPerPosition = 100000
	DefaultHistorySize        = 500
	DefaultTickInterval       = time.Second
	DefaultCloseGrace         = 2 * time.Second
	DefaultEventBuffer        = 1024
	DefaultShutdownTimeout    = 5 * time.Second
	DefaultSnapshotInterval   = time.Minute
	DefaultOutputPath         = "./results"
)

// StrategyConfig selects a registered strategy.
type StrategyConfig struct {
	Name   string          `yaml:"name" json:"name" jsonschema:"title=Strategy,description=Registered strategy name,default=opening_price_crossover" validate:"required"`
	Params strategy.Params `yaml:"params,omitempty" json:"params,omitempty" jsonschema:"title=Parameters,description=Strategy specific parameters"`
}

// LotSizeConfig describes where lot sizes come from.
type LotSizeConfig struct {
	Default     int64            `yaml:"default" json:"default" jsonschema:"title=Default Lot,description=Lot size of instruments not listed,default=1,minimum=0" validate:"gte=0"`
	Instruments map[string]int64 `yaml:"instruments,omitempty" json:"instruments,omitempty" jsonschema:"title=Instrument Lots,description=Lot size per instrument"`
	// File is an optional CSV or Parquet symbol master with symbol and lot_size columns.
	File string `yaml:"file,omitempty" json:"file,omitempty" jsonschema:"title=Symbol Master,description=CSV or Parquet file with symbol and lot_size columns"`
}

// LiveConfig tunes the live adapter.
type LiveConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" json:"tick_interval" jsonschema:"title=Tick Interval,description=How often the clock is polled" validate:"gte=0"`
	CloseGrace       time.Duration `yaml:"close_grace" json:"close_grace" jsonschema:"title=Close Grace,description=Delay after a bucket ends before it is closed" validate:"gte=0"`
	EventBuffer      int           `yaml:"event_buffer" json:"event_buffer" jsonschema:"title=Event Buffer,description=Capacity of the ingestion channel,default=1024" validate:"gte=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" jsonschema:"title=Shutdown Timeout,description=Bounded wait for the ingestion worker on stop" validate:"gte=0"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval" jsonschema:"title=Snapshot Interval,description=Minimum spacing of persisted snapshots" validate:"gte=0"`
}

// OutputConfig sets where run folders are created.
type OutputConfig struct {
	Path string `yaml:"path" json:"path" jsonschema:"title=Output Path,description=Root of the date/run folders,default=./results"`
}

// BacktestConfig limits the replayed period.
type BacktestConfig struct {
	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the replayed period"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the replayed period"`
}

type backtestConfigYAML struct {
	StartTime *time.Time `yaml:"start_time,omitempty"`
	EndTime   *time.Time `yaml:"end_time,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler for the optional times.
func (c *BacktestConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw backtestConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.StartTime = optional.FromNillable(raw.StartTime)
	c.EndTime = optional.FromNillable(raw.EndTime)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c BacktestConfig) MarshalYAML() (any, error) {
	var raw backtestConfigYAML

	if t, err := c.StartTime.Take(); err == nil {
		raw.StartTime = &t
	}

	if t, err := c.EndTime.Take(); err == nil {
		raw.EndTime = &t
	}

	return raw, nil
}

// Config is the complete engine configuration. It is built once and passed
// to every component.
type Config struct {
	RunID              string             `yaml:"run_id" json:"run_id" jsonschema:"title=Run ID,description=Identifier carried by every record; generated when empty"`
	InitialCash        float64            `yaml:"initial_cash" json:"initial_cash" jsonschema:"title=Initial Cash,description=Cash pool at the start of the run,default=5000000,exclusiveMinimum=0" validate:"gt=0"`
	CapitalPerPosition float64            `yaml:"capital_per_position" json:"capital_per_position" jsonschema:"title=Capital Per Position,description=Capital allocated to each instrument and timeframe,default=100000,exclusiveMinimum=0" validate:"gt=0"`
	PrimaryResolution  types.Resolution   `yaml:"primary_resolution" json:"primary_resolution" jsonschema:"title=Primary Resolution,description=Resolution whose bar close triggers decisions,default=1m" validate:"required"`
	Resolutions        []types.Resolution `yaml:"resolutions" json:"resolutions" jsonschema:"title=Resolutions,description=Bar resolutions built from the raw feed" validate:"required,min=1"`
	HistorySize        int                `yaml:"history_size" json:"history_size" jsonschema:"title=History Size,description=Closed bars kept per resolution and instrument,default=500" validate:"gte=0"`
	WarmupBars         int                `yaml:"warmup_bars" json:"warmup_bars" jsonschema:"title=Warmup Bars,description=Primary bars closed before the strategy is consulted,default=0" validate:"gte=0"`
	Instruments        []string           `yaml:"instruments,omitempty" json:"instruments,omitempty" jsonschema:"title=Instruments,description=Instruments traded by this run"`
	Strategy           StrategyConfig     `yaml:"strategy" json:"strategy"`
	Session            session.Config     `yaml:"session" json:"session"`
	LotSizes           LotSizeConfig      `yaml:"lot_sizes" json:"lot_sizes"`
	Live               LiveConfig         `yaml:"live" json:"live"`
	Backtest           BacktestConfig     `yaml:"backtest" json:"backtest"`
	Output             OutputConfig       `yaml:"output" json:"output"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	return Config{
		RunID:              "",
		InitialCash:        DefaultInitialCash,
		CapitalPerPosition: DefaultCapitalPerPosition,
		PrimaryResolution:  types.Resolution1m,
		Resolutions:        []types.Resolution{types.Resolution1m, types.Resolution5m, types.Resolution1d},
		HistorySize:        DefaultHistorySize,
		WarmupBars:         0,
		Instruments:        nil,
		Strategy: StrategyConfig{
			Name:   strategy.OpeningPriceCrossoverName,
			Params: nil,
		},
		Session: session.DefaultConfig(),
		LotSizes: LotSizeConfig{
			Default:     1,
			Instruments: nil,
			File:        "",
		},
		Live: LiveConfig{
			TickInterval:     DefaultTickInterval,
			CloseGrace:       DefaultCloseGrace,
			EventBuffer:      DefaultEventBuffer,
			ShutdownTimeout:  DefaultShutdownTimeout,
			SnapshotInterval: DefaultSnapshotInterval,
		},
		Backtest: BacktestConfig{
			StartTime: optional.None[time.Time](),
			EndTime:   optional.None[time.Time](),
		},
		Output: OutputConfig{Path: DefaultOutputPath},
	}
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path) //nolint:exhaustruct // zero value on error
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err) //nolint:exhaustruct // zero value on error
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err //nolint:exhaustruct // zero value on error
	}

	return cfg, nil
}

//nolint:funcorder // helper for ParseConfig
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Live.TickInterval == 0 {
		c.Live.TickInterval = defaults.Live.TickInterval
	}

	if c.Live.EventBuffer == 0 {
		c.Live.EventBuffer = defaults.Live.EventBuffer
	}

	if c.Live.ShutdownTimeout == 0 {
		c.Live.ShutdownTimeout = defaults.Live.ShutdownTimeout
	}

	if c.HistorySize == 0 {
		c.HistorySize = defaults.HistorySize
	}

	if c.Session.Mode == "" {
		c.Session.Mode = defaults.Session.Mode
	}

	if c.Session.Timezone == "" {
		c.Session.Timezone = defaults.Session.Timezone
	}
}

// Validate checks field constraints and the invariants between fields.
// Every failure is an InvalidConfiguration error.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine config", err)
	}

	if c.CapitalPerPosition > c.InitialCash {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"capital_per_position %.2f exceeds initial_cash %.2f", c.CapitalPerPosition, c.InitialCash)
	}

	for _, res := range c.Resolutions {
		if !res.IsValid() {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown resolution %q", res)
		}
	}

	if !c.PrimaryResolution.IsValid() {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown primary resolution %q", c.PrimaryResolution)
	}

	if !slices.Contains(c.Resolutions, c.PrimaryResolution) {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"primary resolution %s is not in resolutions %v", c.PrimaryResolution, c.Resolutions)
	}

	for instrument, lot := range c.LotSizes.Instruments {
		if lot <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "lot size of %s must be positive, got %d", instrument, lot)
		}
	}

	start, startErr := c.Backtest.StartTime.Take()
	end, endErr := c.Backtest.EndTime.Take()

	if startErr == nil && endErr == nil && !end.After(start) {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "backtest end %s is not after start %s", end, start)
	}

	if _, err := session.NewController(c.Session, nil); err != nil {
		return err
	}

	return nil
}

// GenerateSchema generates a JSON schema for Config.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case reflect.TypeFor[optional.Option[time.Time]]():
				return &jsonschema.Schema{Type: "string", Format: "date-time"}
			case reflect.TypeFor[time.Duration]():
				return &jsonschema.Schema{Type: "string", Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|ms|s|m|h))+$`}
			case reflect.TypeFor[types.Resolution]():
				enum := make([]any, 0, len(types.AllResolutions))
				for _, res := range types.AllResolutions {
					enum = append(enum, string(res))
				}

				return &jsonschema.Schema{Type: "string", Enum: enum}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "papertrade-engine-config"
	schema.Description = "Configuration schema for the paper trading engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates an indented JSON schema for Config.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to marshal config schema", err)
	}

	return string(schemaBytes), nil
}
