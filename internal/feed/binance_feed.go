package feed

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AggTradeService opens a combined aggregated trade stream. It matches
// binance.WsCombinedAggTradeServe.
type AggTradeService interface {
	WsCombinedAggTradeServe(symbols []string, handler binance.WsAggTradeHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)
}

// binanceAggTradeService calls the go-binance websocket client.
type binanceAggTradeService struct{}

func (binanceAggTradeService) WsCombinedAggTradeServe(symbols []string, handler binance.WsAggTradeHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error) {
	return binance.WsCombinedAggTradeServe(symbols, handler, errHandler)
}

// BinanceTradeFeedConfig configures a BinanceTradeFeed.
type BinanceTradeFeedConfig struct {
	Symbols        []string      `json:"symbols" yaml:"symbols" jsonschema:"title=Symbols,description=Symbols to stream (e.g. BTCUSDT)" validate:"required,min=1"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries" jsonschema:"title=Max retries,default=10" validate:"gte=0"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" jsonschema:"title=Initial backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff" jsonschema:"title=Max backoff" validate:"gte=0"`
	// Buffer is the number of trades held between the websocket goroutine
	// and the consumer.
	Buffer int `json:"buffer" yaml:"buffer" jsonschema:"title=Buffer,default=256" validate:"gte=0"`
}

// BinanceTradeFeed streams Binance aggregated trades as price events.
type BinanceTradeFeed struct {
	config  BinanceTradeFeedConfig
	service AggTradeService
	log     *logger.Logger
}

// NewBinanceTradeFeed creates a feed on the public Binance websocket.
func NewBinanceTradeFeed(config BinanceTradeFeedConfig, log *logger.Logger) (*BinanceTradeFeed, error) {
	return NewBinanceTradeFeedWithService(config, binanceAggTradeService{}, log)
}

// NewBinanceTradeFeedWithService creates a feed on a custom stream service.
func NewBinanceTradeFeedWithService(config BinanceTradeFeedConfig, service AggTradeService, log *logger.Logger) (*BinanceTradeFeed, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid binance feed config", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}

	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaultInitialBackoff
	}

	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaultMaxBackoff
	}

	if config.Buffer == 0 {
		config.Buffer = 256
	}

	symbols := make([]string, len(config.Symbols))
	for i, symbol := range config.Symbols {
		symbols[i] = strings.ToUpper(symbol)
	}

	config.Symbols = symbols

	return &BinanceTradeFeed{
		config:  config,
		service: service,
		log:     log,
	}, nil
}

// Stream implements Feed with the same disconnect and retry behaviour as
// WebSocketFeed.
func (f *BinanceTradeFeed) Stream(ctx context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(yield func(types.PriceEvent, error) bool) {
		retry := newRetryPolicy(f.config.MaxRetries, f.config.InitialBackoff, f.config.MaxBackoff)

		for ctx.Err() == nil {
			received, stop, err := f.session(ctx, yield)
			if stop || ctx.Err() != nil {
				return
			}

			if received {
				retry.reset()
			}

			f.log.Warn("Binance stream disconnected", zap.Strings("symbols", f.config.Symbols), zap.Error(err))

			if !yield(types.PriceEvent{}, errors.Wrap(errors.ErrCodeFeedDisconnected, "binance aggregated trade stream disconnected", err)) { //nolint:exhaustruct
				return
			}

			if !retry.wait(ctx, yield) {
				return
			}
		}
	}
}

//nolint:funcorder // helper for Stream
func (f *BinanceTradeFeed) session(ctx context.Context, yield func(types.PriceEvent, error) bool) (bool, bool, error) {
	trades := make(chan *binance.WsAggTradeEvent, f.config.Buffer)
	failures := make(chan error, 1)
	quit := make(chan struct{})

	defer close(quit)

	handler := func(event *binance.WsAggTradeEvent) {
		select {
		case trades <- event:
		case <-quit:
		}
	}

	errHandler := func(err error) {
		select {
		case failures <- err:
		default:
		}
	}

	doneC, stopC, err := f.service.WsCombinedAggTradeServe(f.config.Symbols, handler, errHandler)
	if err != nil {
		return false, false, err
	}

	f.log.Info("Binance stream connected", zap.Strings("symbols", f.config.Symbols))

	defer close(stopC)

	received := false

	for {
		select {
		case <-ctx.Done():
			return received, true, nil
		case event := <-trades:
			priceEvent, err := ConvertAggTrade(event)
			if err != nil {
				if !yield(types.PriceEvent{}, err) { //nolint:exhaustruct
					return received, true, nil
				}

				continue
			}

			received = true

			if !yield(priceEvent, nil) {
				return received, true, nil
			}
		case err := <-failures:
			return received, false, err
		case <-doneC:
			select {
			case err := <-failures:
				return received, false, err
			default:
				return received, false, errors.New(errors.ErrCodeFeedDisconnected, "stream closed by server")
			}
		}
	}
}

// ConvertAggTrade converts a Binance aggregated trade into a price event.
func ConvertAggTrade(event *binance.WsAggTradeEvent) (types.PriceEvent, error) {
	if event == nil {
		return types.PriceEvent{}, errors.New(errors.ErrCodeMarketDataParseFailed, "nil aggregated trade") //nolint:exhaustruct
	}

	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		return types.PriceEvent{}, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "invalid price %q for %s", event.Price, event.Symbol) //nolint:exhaustruct
	}

	quantity, err := decimal.NewFromString(event.Quantity)
	if err != nil {
		return types.PriceEvent{}, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "invalid quantity %q for %s", event.Quantity, event.Symbol) //nolint:exhaustruct
	}

	ts := event.TradeTime
	if ts == 0 {
		ts = event.Time
	}

	return types.PriceEvent{
		Instrument: event.Symbol,
		Time:       time.UnixMilli(ts),
		Price:      price.InexactFloat64(),
		Volume:     quantity.InexactFloat64(),
	}, nil
}
