package writers

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

const tradesSchema = `
	trade_id TEXT,
	order_id TEXT,
	run_id TEXT,
	instrument TEXT,
	timeframe TEXT,
	side TEXT,
	quantity BIGINT,
	price DOUBLE,
	value DOUBLE,
	timestamp TIMESTAMPTZ,
	realized_pnl DOUBLE,
	reason TEXT,
	entry_time TIMESTAMPTZ,
	closes_position BOOLEAN
`

// TradesWriter writes fills to a parquet file.
type TradesWriter struct {
	*tableWriter
}

// NewTradesWriter creates a new TradesWriter.
// outputPath is the full path to the parquet file. With realtime set, the
// file is rewritten after each trade.
func NewTradesWriter(outputPath string, realtime bool) *TradesWriter {
	return &TradesWriter{
		tableWriter: newTableWriter("trades", tradesSchema, "timestamp ASC, rowid ASC", outputPath, realtime),
	}
}

// Write persists a trade.
func (w *TradesWriter) Write(trade types.Trade) error {
	var entryTime any
	if !trade.EntryTime.IsZero() {
		entryTime = trade.EntryTime
	}

	return w.insert(squirrel.Insert("trades").
		Columns("trade_id", "order_id", "run_id", "instrument", "timeframe", "side", "quantity", "price",
			"value", "timestamp", "realized_pnl", "reason", "entry_time", "closes_position").
		Values(trade.TradeID, trade.OrderID, trade.RunID, trade.Key.Instrument, string(trade.Key.Timeframe),
			string(trade.Side), trade.Quantity, trade.Price, trade.Value(), trade.Timestamp,
			trade.RealizedPnL, trade.Reason, entryTime, trade.ClosesPosition))
}

// TotalPnL returns the sum of realized P&L over all trades.
func (w *TradesWriter) TotalPnL() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return 0, errors.New(errors.ErrCodeWriteFailed, "writer not initialized")
	}

	var total sql.NullFloat64
	if err := w.db.QueryRow("SELECT SUM(realized_pnl) FROM trades").Scan(&total); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to sum PnL", err)
	}

	if !total.Valid {
		return 0, nil
	}

	return total.Float64, nil
}
