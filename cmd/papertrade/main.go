package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-papertrade/internal/engine"
	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/server"
	"github.com/rxtech-lab/argo-papertrade/internal/session"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// Feed kinds accepted by --feed.
const (
	FeedWebSocket = "websocket"
	FeedBinance   = "binance"
)

const serverShutdownTimeout = 5 * time.Second

type feedOptions struct {
	Kind      string
	URL       string
	Subscribe string
	Symbols   []string
}

func newFeed(options feedOptions, log *logger.Logger) (feed.Feed, error) {
	switch strings.ToLower(options.Kind) {
	case FeedWebSocket:
		source, err := feed.NewWebSocketFeed(feed.WebSocketFeedConfig{ //nolint:exhaustruct
			URL:       options.URL,
			Subscribe: options.Subscribe,
		}, log)
		if err != nil {
			return nil, err
		}

		return source, nil
	case FeedBinance:
		source, err := feed.NewBinanceTradeFeed(feed.BinanceTradeFeedConfig{ //nolint:exhaustruct
			Symbols: options.Symbols,
		}, log)
		if err != nil {
			return nil, err
		}

		return source, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown feed %q, expected %s or %s", options.Kind, FeedWebSocket, FeedBinance)
	}
}

func papertradeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := engine.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	if output := cmd.String("output"); output != "" {
		cfg.Output.Path = output
	}

	if cfg.RunID == "" {
		cfg.RunID = engine.NewRunID(engine.LiveRunPrefix, cfg.Strategy.Name, cfg.Instruments, time.Now())
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

	symbols := cmd.StringSlice("symbols")
	if len(symbols) == 0 {
		symbols = cfg.Instruments
	}

	source, err := newFeed(feedOptions{
		Kind:      cmd.String("feed"),
		URL:       cmd.String("url"),
		Subscribe: cmd.String("subscribe"),
		Symbols:   symbols,
	}, log)
	if err != nil {
		return err
	}

	metrics := engine.NewMetrics(cfg.RunID, true)

	live, err := engine.NewLiveEngine(cfg, engine.Dependencies{ //nolint:exhaustruct
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	if path := cmd.String("warmup"); path != "" {
		count, err := warmUp(ctx, live, path, cmd.Duration("warmup-window"), cfg.Instruments, log)
		if err != nil {
			return err
		}

		fmt.Printf("Warmed up on %d events from %s\n", count, path)
	}

	status := server.New(live, metrics.Registry(), log)
	if err := status.Start(cmd.String("listen")); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()

		if err := status.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to stop status server", zap.Error(err))
		}
	}()

	err = live.Run(ctx, source, liveCallbacks(log))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := live.Stats()
	fmt.Printf("%s: %d trades, realized P&L %.2f, final equity %.2f\n",
		cfg.RunID,
		stats.TradeResult.NumberOfTrades,
		stats.TradePnl.RealizedPnL,
		stats.FinalEquity,
	)

	return nil
}

// warmUp loads the window of history before now from path into live and
// returns the number of events used.
func warmUp(ctx context.Context, live *engine.LiveEngine, path string, window time.Duration, instruments []string, log *logger.Logger) (int, error) {
	now := time.Now()

	options := feed.DuckDBFeedOptions{
		Start:       optional.None[time.Time](),
		End:         optional.Some(now),
		Instruments: instruments,
	}
	if window > 0 {
		options.Start = optional.Some(now.Add(-window))
	}

	source, err := feed.NewDuckDBFeed(path, options, log)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	return live.WarmUp(ctx, source)
}

func liveCallbacks(log *logger.Logger) engine.Callbacks {
	onStart := engine.OnEngineStartCallback(func(runID string, instruments []string, primary types.Resolution) error {
		log.Info("Paper trading started",
			zap.String("run_id", runID),
			zap.Strings("instruments", instruments),
			zap.String("primary", string(primary)),
		)

		return nil
	})
	onTrade := engine.OnTradeCallback(func(trade types.Trade) {
		log.Info("Trade",
			zap.String("instrument", trade.Key.Instrument),
			zap.String("timeframe", string(trade.Key.Timeframe)),
			zap.String("side", string(trade.Side)),
			zap.Int64("quantity", trade.Quantity),
			zap.Float64("price", trade.Price),
			zap.String("reason", trade.Reason),
		)
	})
	onSession := engine.OnSessionChangeCallback(func(transition session.Transition) {
		log.Info("Session changed",
			zap.String("from", transition.From.String()),
			zap.String("to", transition.To.String()),
			zap.Time("at", transition.Time),
		)
	})
	onError := engine.OnErrorCallback(func(err error) {
		log.Warn("Engine error", zap.Error(err))
	})

	return engine.Callbacks{ //nolint:exhaustruct
		OnEngineStart:   &onStart,
		OnTrade:         &onTrade,
		OnSessionChange: &onSession,
		OnError:         &onError,
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "papertrade",
		Usage: "Paper trade a strategy on a live market feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine config `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "feed",
				Usage: "Market feed: websocket or binance",
				Value: FeedWebSocket,
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Websocket endpoint streaming JSON ticks",
			},
			&cli.StringFlag{
				Name:  "subscribe",
				Usage: "Text message sent after each websocket connect",
			},
			&cli.StringSliceFlag{
				Name:  "symbols",
				Usage: "Binance symbols to stream; defaults to the configured instruments",
			},
			&cli.StringFlag{
				Name:  "warmup",
				Usage: "Parquet or CSV `FILE` of recent history loaded before the feed starts",
			},
			&cli.DurationFlag{
				Name:  "warmup-window",
				Usage: "How far back from now the warm-up file is read; 0 reads all of it",
				Value: 5 * 24 * time.Hour,
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address of the status and metrics server",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Override the output directory",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log at debug level",
			},
		},
		Action: papertradeAction,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
