package writers

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type WritersTestSuite struct {
	suite.Suite
	tempDir string
	start   time.Time
	key     types.PositionKey
}

func TestWritersTestSuite(t *testing.T) {
	suite.Run(t, new(WritersTestSuite))
}

func (s *WritersTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.start = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	s.key = types.NewPositionKey("NIFTY", types.Resolution5m)
}

func (s *WritersTestSuite) trade(id string, side types.PurchaseType, pnl float64) types.Trade {
	return types.Trade{
		TradeID:        id,
		OrderID:        "order-" + id,
		RunID:          "bt_test",
		Key:            s.key,
		Side:           side,
		Quantity:       50,
		Price:          100,
		Timestamp:      s.start,
		RealizedPnL:    pnl,
		Reason:         types.OrderReasonStrategy,
		EntryTime:      time.Time{},
		ClosesPosition: side == types.PurchaseTypeSell,
	}
}

// parquetRows counts the rows of a parquet file with a separate connection.
func (s *WritersTestSuite) parquetRows(path string) int {
	db, err := sql.Open("duckdb", "")
	s.Require().NoError(err)
	defer db.Close()

	var count int
	s.Require().NoError(db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", path)).Scan(&count))

	return count
}

// ============================================================================
// TradesWriter
// ============================================================================

func (s *WritersTestSuite) TestTradesWriter_Write_NotInitialized() {
	w := NewTradesWriter(filepath.Join(s.tempDir, "trades.parquet"), true)

	err := w.Write(s.trade("1", types.PurchaseTypeBuy, 0))
	s.Error(err)
	s.Contains(err.Error(), "writer not initialized")
	s.Equal(errors.ErrCodeWriteFailed, errors.GetCode(err))
}

func (s *WritersTestSuite) TestTradesWriter_Flush_NotInitialized() {
	w := NewTradesWriter(filepath.Join(s.tempDir, "trades.parquet"), false)

	s.Error(w.Flush())
}

func (s *WritersTestSuite) TestTradesWriter_Close_NotInitialized() {
	w := NewTradesWriter(filepath.Join(s.tempDir, "trades.parquet"), false)

	s.NoError(w.Close())
}

func (s *WritersTestSuite) TestTradesWriter_WriteAndCount() {
	outputPath := filepath.Join(s.tempDir, "nested", "trades.parquet")
	w := NewTradesWriter(outputPath, true)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	s.Require().NoError(w.Write(s.trade("1", types.PurchaseTypeBuy, 0)))
	s.Require().NoError(w.Write(s.trade("2", types.PurchaseTypeSell, 250)))

	count, err := w.Count()
	s.Require().NoError(err)
	s.Equal(2, count)

	total, err := w.TotalPnL()
	s.Require().NoError(err)
	s.Equal(250.0, total)

	s.FileExists(outputPath)
	s.Equal(2, s.parquetRows(outputPath))
	s.Equal(outputPath, w.OutputPath())
}

func (s *WritersTestSuite) TestTradesWriter_TotalPnL_NoTrades() {
	w := NewTradesWriter(filepath.Join(s.tempDir, "trades.parquet"), false)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	total, err := w.TotalPnL()
	s.Require().NoError(err)
	s.Equal(0.0, total)
}

func (s *WritersTestSuite) TestTradesWriter_DeferredExport() {
	outputPath := filepath.Join(s.tempDir, "trades.parquet")
	w := NewTradesWriter(outputPath, false)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	s.Require().NoError(w.Write(s.trade("1", types.PurchaseTypeBuy, 0)))
	s.NoFileExists(outputPath)

	s.Require().NoError(w.Flush())
	s.Equal(1, s.parquetRows(outputPath))
}

func (s *WritersTestSuite) TestTradesWriter_Persistence() {
	outputPath := filepath.Join(s.tempDir, "trades.parquet")

	first := NewTradesWriter(outputPath, true)
	s.Require().NoError(first.Initialize())
	s.Require().NoError(first.Write(s.trade("1", types.PurchaseTypeBuy, 0)))
	s.Require().NoError(first.Close())

	second := NewTradesWriter(outputPath, true)
	s.Require().NoError(second.Initialize())
	defer second.Close()

	s.Require().NoError(second.Write(s.trade("2", types.PurchaseTypeSell, 100)))

	count, err := second.Count()
	s.Require().NoError(err)
	s.Equal(2, count)
	s.Equal(2, s.parquetRows(outputPath))
}

// ============================================================================
// RejectionsWriter and AnomaliesWriter
// ============================================================================

func (s *WritersTestSuite) TestRejectionsWriter_Write() {
	outputPath := filepath.Join(s.tempDir, "rejections.parquet")
	w := NewRejectionsWriter(outputPath, true)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	signal := types.NewSellSignal(s.key, types.OrderReasonStrategy)
	err := errors.New(errors.ErrCodeNoOpenPosition, "no open position")
	s.Require().NoError(w.Write(types.NewRejection("bt_test", signal, s.start, err)))

	count, countErr := w.Count()
	s.Require().NoError(countErr)
	s.Equal(1, count)
	s.Equal(1, s.parquetRows(outputPath))
}

func (s *WritersTestSuite) TestAnomaliesWriter_Write() {
	outputPath := filepath.Join(s.tempDir, "anomalies.parquet")
	w := NewAnomaliesWriter(outputPath, true)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	s.Require().NoError(w.Write(types.Anomaly{
		RunID:      "bt_test",
		Instrument: "NIFTY",
		Resolution: types.Resolution1m,
		Timestamp:  s.start,
		Code:       errors.ErrCodeOutOfOrderData,
		Message:    "event before watermark",
	}))

	count, err := w.Count()
	s.Require().NoError(err)
	s.Equal(1, count)
}

// ============================================================================
// SnapshotsWriter
// ============================================================================

func (s *WritersTestSuite) state(positions int) types.PortfolioState {
	state := types.PortfolioState{
		RunID:       "bt_test",
		Time:        s.start,
		InitialCash: 1000000,
		Cash:        900000,
		Positions:   make(map[types.PositionKey]types.Position),
		SlotCapital: make(map[types.PositionKey]float64),
	}

	for i := range positions {
		key := types.NewPositionKey(fmt.Sprintf("SYM%d", i), types.Resolution1m)
		state.Positions[key] = types.Position{Key: key, Quantity: 10, AverageEntryPrice: 100, AllocatedCapital: 1000, RealizedPnL: 0, OpenTime: s.start}
		state.SlotCapital[key] = 1000
	}

	return state
}

func (s *WritersTestSuite) TestSnapshotsWriter_Write() {
	outputPath := filepath.Join(s.tempDir, "snapshots.parquet")
	w := NewSnapshotsWriter(outputPath, false)
	s.Require().NoError(w.Initialize())
	defer w.Close()

	s.Require().NoError(w.Write(s.state(2), map[string]float64{"SYM0": 110}))
	s.Require().NoError(w.Write(s.state(0), nil))

	points, err := w.PointCount()
	s.Require().NoError(err)
	s.Equal(2, points)

	rows, err := w.PositionRowCount()
	s.Require().NoError(err)
	s.Equal(2, rows)

	s.Require().NoError(w.Flush())
	s.Equal(2, s.parquetRows(outputPath))
	s.Equal(2, s.parquetRows(w.EquityOutputPath()))
	s.Equal(filepath.Join(s.tempDir, EquityFileName), w.EquityOutputPath())
}

// ============================================================================
// ParquetSink
// ============================================================================

func (s *WritersTestSuite) TestParquetSink_WriteFlushClose() {
	sink := NewParquetSink(s.tempDir, false, logger.NewNopLogger())
	s.Require().NoError(sink.Initialize())

	s.Require().NoError(sink.WriteTrade(s.trade("1", types.PurchaseTypeBuy, 0)))
	s.Require().NoError(sink.WriteSnapshot(s.state(1), nil))
	s.Require().NoError(sink.Flush())
	s.Require().NoError(sink.Close())

	s.Equal(1, s.parquetRows(filepath.Join(s.tempDir, TradesFileName)))
	s.Equal(1, s.parquetRows(filepath.Join(s.tempDir, SnapshotsFileName)))
	s.FileExists(filepath.Join(s.tempDir, RejectionsFileName))
	s.FileExists(filepath.Join(s.tempDir, AnomaliesFileName))
	s.FileExists(filepath.Join(s.tempDir, EquityFileName))
}

func (s *WritersTestSuite) TestParquetSink_Rotate() {
	firstDir := filepath.Join(s.tempDir, "2024-03-04", "run_1")
	secondDir := filepath.Join(s.tempDir, "2024-03-05", "run_1")

	sink := NewParquetSink(firstDir, true, nil)
	s.Require().NoError(sink.Initialize())
	defer sink.Close()

	s.Require().NoError(sink.WriteTrade(s.trade("1", types.PurchaseTypeBuy, 0)))
	s.Require().NoError(sink.Rotate(firstDir))
	s.Require().NoError(sink.Rotate(secondDir))
	s.Equal(secondDir, sink.Dir())
	s.Equal(filepath.Join(secondDir, TradesFileName), sink.TradesPath())

	s.Require().NoError(sink.WriteTrade(s.trade("2", types.PurchaseTypeSell, 10)))

	count, err := sink.TradeCount()
	s.Require().NoError(err)
	s.Equal(1, count)
	s.Equal(1, s.parquetRows(filepath.Join(firstDir, TradesFileName)))
}
