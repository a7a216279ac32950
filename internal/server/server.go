// Package server exposes a running engine over HTTP: portfolio, positions,
// statistics, health and Prometheus metrics.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rxtech-lab/argo-papertrade/internal/engine"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

// Provider is the read side of an engine. Every method must be safe to call
// while the engine runs.
type Provider interface {
	Portfolio() types.PortfolioState
	Prices() map[string]float64
	Stats() types.TradeStats
	Status() engine.Status
}

// Server serves the state of one engine.
type Server struct {
	provider Provider
	router   *mux.Router
	log      *logger.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// PositionView is an open position marked at the latest price.
type PositionView struct {
	types.Position

	LastPrice     float64 `json:"last_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioView is the response of GET /portfolio.
type PortfolioView struct {
	RunID         string         `json:"run_id"`
	Time          time.Time      `json:"time"`
	InitialCash   float64        `json:"initial_cash"`
	Cash          float64        `json:"cash"`
	Equity        float64        `json:"equity"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Positions     []PositionView `json:"positions"`
}

// New creates a server for provider. registry is exposed on /metrics when
// not nil.
func New(provider Provider, registry *prometheus.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		provider:   provider,
		router:     mux.NewRouter(),
		log:        log,
		mu:         sync.Mutex{},
		httpServer: nil,
		listener:   nil,
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	s.router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/positions/{instrument}", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	if registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})).Methods(http.MethodGet)
	}

	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on address and serves in the background. An empty address
// picks a free port.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to listen on %s", address)
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Status server stopped", zap.Error(err))
		}
	}()

	s.log.Info("Status server listening", zap.String("address", listener.Addr().String()))

	return nil
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	return httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.provider.Status()

	code := http.StatusOK
	if !status.Running {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, status)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	state := s.provider.Portfolio()
	prices := s.provider.Prices()

	s.writeJSON(w, http.StatusOK, PortfolioView{
		RunID:         state.RunID,
		Time:          state.Time,
		InitialCash:   state.InitialCash,
		Cash:          state.Cash,
		Equity:        state.Equity(prices),
		UnrealizedPnL: state.UnrealizedPnL(prices),
		Positions:     positionViews(state, prices, ""),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]

	views := positionViews(s.provider.Portfolio(), s.provider.Prices(), instrument)
	if instrument != "" && len(views) == 0 {
		http.Error(w, "no open position for "+instrument, http.StatusNotFound)

		return
	}

	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.log.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if _, err := w.Write(data); err != nil {
		s.log.Debug("Failed to write response", zap.Error(err))
	}
}

// positionViews marks the open positions of state, sorted by key. A
// non-empty instrument keeps only its keys.
func positionViews(state types.PortfolioState, prices map[string]float64, instrument string) []PositionView {
	views := make([]PositionView, 0, len(state.Positions))

	for _, key := range types.SortedPositionKeys(state.Positions) {
		if instrument != "" && key.Instrument != instrument {
			continue
		}

		position := state.Positions[key]

		price, ok := prices[key.Instrument]
		if !ok {
			price = position.AverageEntryPrice
		}

		views = append(views, PositionView{
			Position:      position,
			LastPrice:     price,
			MarketValue:   position.MarketValue(price),
			UnrealizedPnL: position.UnrealizedPnL(price),
		})
	}

	return views
}
