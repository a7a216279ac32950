package feed

import (
	"bytes"
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 10
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// WebSocketFeedConfig configures a WebSocketFeed.
type WebSocketFeedConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string `json:"url" yaml:"url" jsonschema:"title=URL,description=Websocket endpoint streaming JSON ticks" validate:"required,url"`
	// Subscribe is sent as a text message after every connect when set.
	Subscribe string `json:"subscribe,omitempty" yaml:"subscribe,omitempty" jsonschema:"title=Subscribe message,description=Text message sent after each connect"`
	// MaxRetries is the number of consecutive failed connects before the
	// stream ends.
	MaxRetries     int           `json:"max_retries" yaml:"max_retries" jsonschema:"title=Max retries,default=10" validate:"gte=0"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" jsonschema:"title=Initial backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff" jsonschema:"title=Max backoff" validate:"gte=0"`
	// ReadTimeout drops a silent connection. Zero disables it.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" jsonschema:"title=Read timeout" validate:"gte=0"`
	Header      http.Header   `json:"-" yaml:"-"`
}

// WebSocketFeed streams JSON ticks from a websocket. Each message is one
// tick object or an array of them:
//
//	{"instrument":"NIFTY","time":"2024-03-04T09:15:01+05:30","price":22405.5,"volume":50}
type WebSocketFeed struct {
	config WebSocketFeedConfig
	dialer *websocket.Dialer
	log    *logger.Logger
}

// NewWebSocketFeed validates config and creates a feed.
func NewWebSocketFeed(config WebSocketFeedConfig, log *logger.Logger) (*WebSocketFeed, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid websocket feed config", err)
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

	return &WebSocketFeed{
		config: config,
		dialer: websocket.DefaultDialer,
		log:    log,
	}, nil
}

// Stream implements Feed. Every disconnect yields an ErrCodeFeedDisconnected
// error; the feed then reconnects with exponential backoff until MaxRetries
// consecutive attempts fail or ctx is done.
func (f *WebSocketFeed) Stream(ctx context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(yield func(types.PriceEvent, error) bool) {
		retry := newRetryPolicy(f.config.MaxRetries, f.config.InitialBackoff, f.config.MaxBackoff)

		for ctx.Err() == nil {
			conn, _, err := f.dialer.DialContext(ctx, f.config.URL, f.config.Header)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				f.log.Warn("Websocket connect failed", zap.String("url", f.config.URL), zap.Error(err))

				if !yield(types.PriceEvent{}, errors.Wrapf(errors.ErrCodeFeedDisconnected, err, "failed to connect to %s", f.config.URL)) { //nolint:exhaustruct
					return
				}

				if !retry.wait(ctx, yield) {
					return
				}

				continue
			}

			f.log.Info("Websocket connected", zap.String("url", f.config.URL))

			received, stop, err := f.session(ctx, conn, yield)
			if stop || ctx.Err() != nil {
				return
			}

			if received {
				retry.reset()
			}

			f.log.Warn("Websocket disconnected", zap.String("url", f.config.URL), zap.Error(err))

			if !yield(types.PriceEvent{}, errors.Wrapf(errors.ErrCodeFeedDisconnected, err, "disconnected from %s", f.config.URL)) { //nolint:exhaustruct
				return
			}

			if !retry.wait(ctx, yield) {
				return
			}
		}
	}
}

// session reads one connection until it fails. It reports whether any tick
// arrived, whether the consumer stopped the stream and the read error.
//
//nolint:funcorder // helper for Stream
func (f *WebSocketFeed) session(ctx context.Context, conn *websocket.Conn, yield func(types.PriceEvent, error) bool) (bool, bool, error) {
	defer conn.Close()

	stopClose := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stopClose()

	if f.config.Subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f.config.Subscribe)); err != nil {
			return false, false, err
		}
	}

	received := false

	for {
		if f.config.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout)); err != nil {
				return received, false, err
			}
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return received, false, err
		}

		events, errs := DecodeTicks(message)

		for _, event := range events {
			received = true

			if !yield(event, nil) {
				return received, true, nil
			}
		}

		for _, err := range errs {
			if !yield(types.PriceEvent{}, err) { //nolint:exhaustruct
				return received, true, nil
			}
		}
	}
}

// DecodeTicks decodes one websocket message holding a tick object or an
// array of ticks. Each bad element of an array is reported on its own and
// the valid ones are still returned.
func DecodeTicks(message []byte) ([]types.PriceEvent, []error) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return nil, []error{errors.New(errors.ErrCodeMarketDataParseFailed, "empty tick message")}
	}

	if trimmed[0] != '[' {
		event, err := decodeTick(trimmed)
		if err != nil {
			return nil, []error{err}
		}

		return []types.PriceEvent{event}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, []error{errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to decode tick array", err)}
	}

	var (
		events []types.PriceEvent
		errs   []error
	)

	for i, element := range elements {
		event, err := decodeTick(element)
		if err != nil {
			errs = append(errs, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "tick %d of %d", i+1, len(elements)))

			continue
		}

		events = append(events, event)
	}

	return events, errs
}

func decodeTick(data []byte) (types.PriceEvent, error) {
	var event types.PriceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.PriceEvent{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to decode tick", err) //nolint:exhaustruct
	}

	if err := event.Validate(); err != nil {
		return types.PriceEvent{}, err //nolint:exhaustruct
	}

	return event, nil
}

// retryPolicy bounds consecutive reconnect attempts.
type retryPolicy struct {
	backoff    *backoff.ExponentialBackOff
	maxRetries int
	attempts   int
	maxWait    time.Duration
}

func newRetryPolicy(maxRetries int, initial, maxWait time.Duration) *retryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxWait

	return &retryPolicy{
		backoff:    b,
		maxRetries: maxRetries,
		attempts:   0,
		maxWait:    maxWait,
	}
}

func (r *retryPolicy) reset() {
	r.attempts = 0
	r.backoff.Reset()
}

// wait sleeps before the next attempt. It returns false once the retries are
// exhausted or ctx is done.
func (r *retryPolicy) wait(ctx context.Context, yield func(types.PriceEvent, error) bool) bool {
	r.attempts++
	if r.attempts > r.maxRetries {
		yield(types.PriceEvent{}, errors.Newf(errors.ErrCodeFeedDisconnected, "giving up after %d reconnect attempts", r.maxRetries)) //nolint:exhaustruct

		return false
	}

	sleep := r.backoff.NextBackOff()
	if sleep == backoff.Stop {
		sleep = r.maxWait
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
