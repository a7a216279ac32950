package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/engine"
	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// progressEvery is how many events pass between progress bar updates.
const progressEvery = 500

// backtestAction replays every data file through its own engine run.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := engine.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	if instruments := cmd.StringSlice("instruments"); len(instruments) > 0 {
		cfg.Instruments = instruments
	}

	if output := cmd.String("output"); output != "" {
		cfg.Output.Path = output
	}

	if name := cmd.String("strategy"); name != "" {
		cfg.Strategy.Name = name
		cfg.Strategy.Params = nil
	}

	level := zap.InfoLevel
	if cmd.Bool("verbose") {
		level = zap.DebugLevel
	}

	log, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	files := cmd.StringSlice("data")
	started := time.Now()

	for _, file := range files {
		runCfg := cfg
		if runCfg.RunID == "" || len(files) > 1 {
			runCfg.RunID = runIDFor(cfg, file, started, len(files) > 1)
		}

		if err := runFile(ctx, runCfg, file, cmd.Bool("no-progress"), log); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// runIDFor generates the run id of file. Several files started in the same
// second are told apart by their file name.
func runIDFor(cfg engine.Config, file string, started time.Time, suffix bool) string {
	id := cfg.RunID
	if id == "" {
		id = engine.NewRunID(engine.BacktestRunPrefix, cfg.Strategy.Name, cfg.Instruments, started)
	}

	if !suffix {
		return id
	}

	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

	return id + "_" + stem
}

func runFile(ctx context.Context, cfg engine.Config, file string, quiet bool, log *logger.Logger) error {
	source, err := feed.NewDuckDBFeed(file, feed.DuckDBFeedOptions{
		Start:       cfg.Backtest.StartTime,
		End:         cfg.Backtest.EndTime,
		Instruments: cfg.Instruments,
	}, log)
	if err != nil {
		return err
	}
	defer source.Close()

	total, err := source.Count()
	if err != nil {
		return err
	}

	replay, err := engine.NewReplayEngine(cfg, engine.Dependencies{Logger: log}) //nolint:exhaustruct
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.Default(int64(total), filepath.Base(file))
	}

	onEvent := engine.OnEventCallback(func(processed int) error {
		if bar != nil && (processed%progressEvery == 0 || processed == total) {
			return bar.Set(processed)
		}

		return nil
	})
	onError := engine.OnErrorCallback(func(err error) {
		log.Warn("Backtest error", zap.String("file", file), zap.Error(err))
	})

	callbacks := engine.Callbacks{ //nolint:exhaustruct
		OnEvent: &onEvent,
		OnError: &onError,
	}

	if err := replay.Run(ctx, source, callbacks); err != nil {
		return fmt.Errorf("backtest of %s failed: %w", file, err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	stats := replay.Stats()

	fmt.Printf("\n%s: %d trades, %d round trips, win rate %.2f%%, realized P&L %.2f, final equity %.2f\n",
		replay.RunID(),
		stats.TradeResult.NumberOfTrades,
		stats.TradeResult.NumberOfRoundTrips,
		stats.TradeResult.WinRate*100,
		stats.TradePnl.RealizedPnL,
		stats.FinalEquity,
	)

	if cfg.Output.Path != "" {
		fmt.Printf("Results written to %s\n", filepath.Join(cfg.Output.Path, replay.RunID()))
	}

	return nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "backtest",
		Usage: "Replay historical market data through a strategy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine config `FILE`",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Parquet or CSV market data file; repeat for several runs",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "instruments",
				Aliases: []string{"i"},
				Usage:   "Only replay these instruments",
			},
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"s"},
				Usage:   "Override the configured strategy with its default parameters",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Override the output directory",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Do not draw a progress bar",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log at debug level",
			},
		},
		Action: backtestAction,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
