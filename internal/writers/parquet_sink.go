package writers

import (
	"path/filepath"
	"sync"

	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"go.uber.org/zap"
)

// File names inside a run folder.
const (
	TradesFileName     = "trades.parquet"
	RejectionsFileName = "rejections.parquet"
	AnomaliesFileName  = "anomalies.parquet"
	SnapshotsFileName  = "snapshots.parquet"
	EquityFileName     = "equity.parquet"
	StatsFileName      = "stats.yaml"
)

// ParquetSink writes every run record to Parquet files in one folder.
type ParquetSink struct {
	dir         string
	realtime    bool
	initialized bool
	trades      *TradesWriter
	rejections  *RejectionsWriter
	anomalies   *AnomaliesWriter
	snapshots   *SnapshotsWriter
	mu          sync.Mutex
	log         *logger.Logger
}

// NewParquetSink creates a sink writing into dir. With realtime set, each
// record is exported on write; otherwise files are written on Flush.
func NewParquetSink(dir string, realtime bool, log *logger.Logger) *ParquetSink {
	if log == nil {
		log = logger.NewNopLogger()
	}

	sink := &ParquetSink{
		dir:         "",
		realtime:    realtime,
		initialized: false,
		trades:      nil,
		rejections:  nil,
		anomalies:   nil,
		snapshots:   nil,
		mu:          sync.Mutex{},
		log:         log,
	}
	sink.open(dir)

	return sink
}

//nolint:funcorder // helper for NewParquetSink and Rotate
func (s *ParquetSink) open(dir string) {
	s.dir = dir
	s.trades = NewTradesWriter(filepath.Join(dir, TradesFileName), s.realtime)
	s.rejections = NewRejectionsWriter(filepath.Join(dir, RejectionsFileName), s.realtime)
	s.anomalies = NewAnomaliesWriter(filepath.Join(dir, AnomaliesFileName), s.realtime)
	s.snapshots = NewSnapshotsWriter(filepath.Join(dir, SnapshotsFileName), s.realtime)
}

//nolint:funcorder // helper for Initialize and Rotate
func (s *ParquetSink) initialize() error {
	if err := s.trades.Initialize(); err != nil {
		return err
	}

	if err := s.rejections.Initialize(); err != nil {
		return err
	}

	if err := s.anomalies.Initialize(); err != nil {
		return err
	}

	return s.snapshots.Initialize()
}

// Initialize creates the folder and loads records already written there.
func (s *ParquetSink) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initialize(); err != nil {
		return err
	}

	s.initialized = true

	s.log.Info("Parquet sink initialized", zap.String("dir", s.dir), zap.Bool("realtime", s.realtime))

	return nil
}

// Rotate flushes and closes the current files, then continues in dir. A
// sink that was never initialized is initialized in dir.
func (s *ParquetSink) Rotate(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized && dir == s.dir {
		return nil
	}

	if s.initialized {
		if err := s.flush(); err != nil {
			return err
		}

		if err := s.close(); err != nil {
			return err
		}
	}

	oldDir := s.dir
	s.open(dir)

	if err := s.initialize(); err != nil {
		return err
	}

	s.initialized = true

	s.log.Info("Parquet sink rotated", zap.String("old_dir", oldDir), zap.String("new_dir", dir))

	return nil
}

// WriteTrade persists a fill.
func (s *ParquetSink) WriteTrade(trade types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.trades.Write(trade)
}

// WriteRejection persists a refused order.
func (s *ParquetSink) WriteRejection(rejection types.Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rejections.Write(rejection)
}

// WriteAnomaly persists a dropped market event.
func (s *ParquetSink) WriteAnomaly(anomaly types.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.anomalies.Write(anomaly)
}

// WriteSnapshot persists a portfolio snapshot and its equity curve point.
func (s *ParquetSink) WriteSnapshot(state types.PortfolioState, prices map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshots.Write(state, prices)
}

// Flush exports every table.
func (s *ParquetSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flush()
}

//nolint:funcorder // helper for Flush and Rotate
func (s *ParquetSink) flush() error {
	for _, flush := range []func() error{s.trades.Flush, s.rejections.Flush, s.anomalies.Flush, s.snapshots.Flush} {
		if err := flush(); err != nil {
			return err
		}
	}

	return nil
}

// Close releases every table. It does not flush.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.close()
}

//nolint:funcorder // helper for Close and Rotate
func (s *ParquetSink) close() error {
	var firstErr error

	for _, closeFn := range []func() error{s.trades.Close, s.rejections.Close, s.anomalies.Close, s.snapshots.Close} {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Dir returns the folder currently written to.
func (s *ParquetSink) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dir
}

// TradesPath returns the current trades file.
func (s *ParquetSink) TradesPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.trades.OutputPath()
}

// SnapshotsPath returns the current snapshots file.
func (s *ParquetSink) SnapshotsPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshots.OutputPath()
}

// TradeCount returns the number of trades in the current folder.
func (s *ParquetSink) TradeCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.trades.Count()
}
