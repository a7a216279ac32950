package main

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"syscall"

	"github.com/rxtech-lab/argo-papertrade/internal/engine"
	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/strategy"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Combination is one point of the parameter grid.
type Combination struct {
	Index  int             `yaml:"index"`
	Params strategy.Params `yaml:"params"`
	Mode   session.Mode    `yaml:"mode"`
}

// Result is the outcome of replaying one combination.
type Result struct {
	Combination  `yaml:",inline"`
	RunID        string  `yaml:"run_id"`
	Trades       int     `yaml:"trades"`
	RoundTrips   int     `yaml:"round_trips"`
	TotalPnL     float64 `yaml:"total_pnl"`
	SharpeRatio  float64 `yaml:"sharpe_ratio"`
	MaxDrawdown  float64 `yaml:"max_drawdown"`
	WinRate      float64 `yaml:"win_rate"`
	ProfitFactor float64 `yaml:"profit_factor"`
}

// axis is one swept parameter and its candidate values.
type axis struct {
	name   string
	values []any
}

// parseAxes parses "name=v1,v2,..." flags. Values are decoded as YAML
// scalars so numbers and booleans keep their type.
func parseAxes(specs []string) ([]axis, error) {
	axes := make([]axis, 0, len(specs))

	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)

		// The flag parser may already have split "name=v1,v2" at the commas.
		if !ok && len(axes) > 0 {
			values, err := parseValues(axes[len(axes)-1].name, spec)
			if err != nil {
				return nil, err
			}

			axes[len(axes)-1].values = append(axes[len(axes)-1].values, values...)

			continue
		}

		if !ok || name == "" || strings.TrimSpace(list) == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "parameter %q must look like name=v1,v2", spec)
		}

		values, err := parseValues(name, list)
		if err != nil {
			return nil, err
		}

		axes = append(axes, axis{name: name, values: values})
	}

	return axes, nil
}

func parseValues(name, list string) ([]any, error) {
	var values []any

	for _, raw := range strings.Split(list, ",") {
		var value any
		if err := yaml.Unmarshal([]byte(strings.TrimSpace(raw)), &value); err != nil || value == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "invalid value %q for %s", raw, name)
		}

		values = append(values, value)
	}

	return values, nil
}

// expand returns the cartesian product of axes and modes on top of base.
// The last axis varies fastest.
func expand(base strategy.Params, axes []axis, modes []session.Mode) []Combination {
	grid := []strategy.Params{cloneParams(base)}

	for _, ax := range axes {
		next := make([]strategy.Params, 0, len(grid)*len(ax.values))

		for _, params := range grid {
			for _, value := range ax.values {
				point := cloneParams(params)
				point[ax.name] = value
				next = append(next, point)
			}
		}

		grid = next
	}

	combinations := make([]Combination, 0, len(grid)*len(modes))

	for _, params := range grid {
		for _, mode := range modes {
			combinations = append(combinations, Combination{
				Index:  len(combinations),
				Params: cloneParams(params),
				Mode:   mode,
			})
		}
	}

	return combinations
}

func cloneParams(params strategy.Params) strategy.Params {
	clone := make(strategy.Params, len(params))
	for key, value := range params {
		clone[key] = value
	}

	return clone
}

func parseModes(names []string) ([]session.Mode, error) {
	modes := make([]session.Mode, 0, len(names))

	for _, name := range names {
		mode := session.Mode(strings.ToLower(strings.TrimSpace(name)))
		if mode != session.ModeIntraday && mode != session.ModePositional {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unknown mode %q", name)
		}

		if !slices.Contains(modes, mode) {
			modes = append(modes, mode)
		}
	}

	return modes, nil
}

// runCombination replays file once with combination applied to cfg. Nothing
// is written to disk.
func runCombination(ctx context.Context, cfg engine.Config, file string, combination Combination, log *logger.Logger) (Result, error) {
	cfg.RunID = fmt.Sprintf("%s_%03d", cfg.RunID, combination.Index)
	cfg.Strategy.Params = combination.Params
	cfg.Session.Mode = combination.Mode
	cfg.Output.Path = ""

	source, err := feed.NewDuckDBFeed(file, feed.DuckDBFeedOptions{
		Start:       cfg.Backtest.StartTime,
		End:         cfg.Backtest.EndTime,
		Instruments: cfg.Instruments,
	}, log)
	if err != nil {
		return Result{}, err
	}
	defer source.Close()

	replay, err := engine.NewReplayEngine(cfg, engine.Dependencies{Logger: log}) //nolint:exhaustruct
	if err != nil {
		return Result{}, err
	}

	if err := replay.Run(ctx, source, engine.Callbacks{}); err != nil { //nolint:exhaustruct
		return Result{}, err
	}

	stats := replay.Stats()

	return Result{
		Combination:  combination,
		RunID:        cfg.RunID,
		Trades:       stats.TradeResult.NumberOfTrades,
		RoundTrips:   stats.TradeResult.NumberOfRoundTrips,
		TotalPnL:     stats.TradePnl.TotalPnL,
		SharpeRatio:  stats.TradeResult.SharpeRatio,
		MaxDrawdown:  stats.TradeResult.MaxDrawdown,
		WinRate:      stats.TradeResult.WinRate,
		ProfitFactor: stats.TradeResult.ProfitFactor,
	}, nil
}

// sweep replays every combination on at most workers goroutines. Failed
// combinations are logged and left out; results are sorted by Sharpe ratio,
// best first.
func sweep(ctx context.Context, cfg engine.Config, file string, combinations []Combination, workers int, log *logger.Logger) ([]Result, error) {
	p := pool.NewWithResults[Result]().WithContext(ctx).WithMaxGoroutines(max(workers, 1))

	for _, combination := range combinations {
		p.Go(func(ctx context.Context) (Result, error) {
			result, err := runCombination(ctx, cfg, file, combination, log)
			if err != nil {
				log.Warn("Combination failed",
					zap.Int("index", combination.Index),
					zap.Any("params", combination.Params),
					zap.String("mode", string(combination.Mode)),
					zap.Error(err),
				)

				return Result{}, fmt.Errorf("combination %d: %w", combination.Index, err)
			}

			return result, nil
		})
	}

	results, err := p.Wait()
	if len(results) == 0 && len(combinations) > 0 {
		if err == nil {
			err = ctx.Err()
		}

		return nil, errors.Wrap(errors.ErrCodeEngineInitFailed, "no combination completed", err)
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.SharpeRatio, a.SharpeRatio); c != 0 {
			return c
		}

		return cmp.Compare(a.Index, b.Index)
	})

	return results, nil
}

func writeResults(path string, results []Result) error {
	data, err := yaml.Marshal(results)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to encode sweep results", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to create %s", filepath.Dir(path))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // results are meant to be readable
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to write %s", path)
	}

	return nil
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := engine.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	axes, err := parseAxes(cmd.StringSlice("param"))
	if err != nil {
		return err
	}

	modes, err := parseModes(cmd.StringSlice("mode"))
	if err != nil {
		return err
	}

	if len(modes) == 0 {
		modes = []session.Mode{cfg.Session.Mode}
	}

	if cfg.RunID == "" {
		cfg.RunID = "sweep"
	}

	level := zap.WarnLevel
	if cmd.Bool("verbose") {
		level = zap.InfoLevel
	}

	log, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	combinations := expand(cfg.Strategy.Params, axes, modes)
	fmt.Printf("Sweeping %d combinations of %s over %s\n", len(combinations), cfg.Strategy.Name, cmd.String("data"))

	results, err := sweep(ctx, cfg, cmd.String("data"), combinations, int(cmd.Int64("workers")), log)
	if err != nil {
		return err
	}

	for i, result := range results[:min(len(results), int(cmd.Int64("top")))] {
		fmt.Printf("%2d. %v %s: sharpe %.3f, P&L %.2f, drawdown %.2f, win rate %.2f%%, profit factor %.2f, %d trades\n",
			i+1, result.Params, result.Mode, result.SharpeRatio, result.TotalPnL, result.MaxDrawdown,
			result.WinRate*100, result.ProfitFactor, result.Trades)
	}

	if output := cmd.String("output"); output != "" {
		if err := writeResults(output, results); err != nil {
			return err
		}

		fmt.Printf("Results written to %s\n", output)
	}

	return nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Backtest a grid of strategy parameters in parallel and rank them by Sharpe ratio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine config `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Parquet or CSV market data file",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "Swept strategy parameter as name=v1,v2; repeat for more axes",
			},
			&cli.StringSliceFlag{
				Name:  "mode",
				Usage: "Session modes to try: intraday, positional. Defaults to the configured mode",
			},
			&cli.Int64Flag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Backtests run at the same time",
				Value:   int64(runtime.NumCPU()),
			},
			&cli.Int64Flag{
				Name:  "top",
				Usage: "Results printed",
				Value: 20,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write every result as YAML to `FILE`",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log engine progress",
			},
		},
		Action: sweepAction,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
