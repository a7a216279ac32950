package writers

import (
	"path/filepath"

	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

const snapshotsSchema = `
	run_id TEXT,
	timestamp TIMESTAMPTZ,
	instrument TEXT,
	timeframe TEXT,
	quantity BIGINT,
	average_entry_price DOUBLE,
	allocated_capital DOUBLE,
	realized_pnl DOUBLE,
	market_price DOUBLE,
	unrealized_pnl DOUBLE,
	open_time TIMESTAMPTZ
`

const equitySchema = `
	run_id TEXT,
	timestamp TIMESTAMPTZ,
	cash DOUBLE,
	holdings DOUBLE,
	unrealized_pnl DOUBLE,
	equity DOUBLE,
	open_positions INTEGER
`

// SnapshotsWriter writes portfolio snapshots: one row per open position to
// the snapshots file and one equity curve point per snapshot to a sibling
// equity file.
type SnapshotsWriter struct {
	positions *tableWriter
	equity    *tableWriter
}

// NewSnapshotsWriter creates a new SnapshotsWriter. The equity file is
// written next to outputPath as equity.parquet.
func NewSnapshotsWriter(outputPath string, realtime bool) *SnapshotsWriter {
	equityPath := filepath.Join(filepath.Dir(outputPath), EquityFileName)

	return &SnapshotsWriter{
		positions: newTableWriter("snapshots", snapshotsSchema, "timestamp ASC, rowid ASC", outputPath, realtime),
		equity:    newTableWriter("equity", equitySchema, "timestamp ASC, rowid ASC", equityPath, realtime),
	}
}

// Initialize sets up both tables.
func (w *SnapshotsWriter) Initialize() error {
	if err := w.positions.Initialize(); err != nil {
		return err
	}

	return w.equity.Initialize()
}

// Write persists state valued at prices. Positions without a price are
// valued at their average entry price.
func (w *SnapshotsWriter) Write(state types.PortfolioState, prices map[string]float64) error {
	for _, key := range types.SortedPositionKeys(state.Positions) {
		position := state.Positions[key]

		price, ok := prices[key.Instrument]
		if !ok {
			price = position.AverageEntryPrice
		}

		err := w.positions.insert(squirrel.Insert("snapshots").
			Columns("run_id", "timestamp", "instrument", "timeframe", "quantity", "average_entry_price",
				"allocated_capital", "realized_pnl", "market_price", "unrealized_pnl", "open_time").
			Values(state.RunID, state.Time, key.Instrument, string(key.Timeframe), position.Quantity,
				position.AverageEntryPrice, position.AllocatedCapital, position.RealizedPnL, price,
				position.UnrealizedPnL(price), position.OpenTime))
		if err != nil {
			return err
		}
	}

	return w.equity.insert(squirrel.Insert("equity").
		Columns("run_id", "timestamp", "cash", "holdings", "unrealized_pnl", "equity", "open_positions").
		Values(state.RunID, state.Time, state.Cash, state.Holdings(prices), state.UnrealizedPnL(prices),
			state.Equity(prices), len(state.Positions)))
}

// Flush exports both tables.
func (w *SnapshotsWriter) Flush() error {
	if err := w.positions.Flush(); err != nil {
		return err
	}

	return w.equity.Flush()
}

// Close releases both tables.
func (w *SnapshotsWriter) Close() error {
	positionsErr := w.positions.Close()
	equityErr := w.equity.Close()

	if positionsErr != nil {
		return positionsErr
	}

	return equityErr
}

// PointCount returns the number of equity curve points stored.
func (w *SnapshotsWriter) PointCount() (int, error) {
	return w.equity.Count()
}

// PositionRowCount returns the number of position rows stored.
func (w *SnapshotsWriter) PositionRowCount() (int, error) {
	return w.positions.Count()
}

// OutputPath returns the snapshots parquet file path.
func (w *SnapshotsWriter) OutputPath() string {
	return w.positions.OutputPath()
}

// EquityOutputPath returns the equity parquet file path.
func (w *SnapshotsWriter) EquityOutputPath() string {
	return w.equity.OutputPath()
}
