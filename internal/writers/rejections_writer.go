package writers

import (
	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

const rejectionsSchema = `
	run_id TEXT,
	instrument TEXT,
	timeframe TEXT,
	side TEXT,
	timestamp TIMESTAMPTZ,
	code INTEGER,
	message TEXT,
	reason TEXT
`

// RejectionsWriter writes refused orders to a parquet file.
type RejectionsWriter struct {
	*tableWriter
}

// NewRejectionsWriter creates a new RejectionsWriter.
func NewRejectionsWriter(outputPath string, realtime bool) *RejectionsWriter {
	return &RejectionsWriter{
		tableWriter: newTableWriter("rejections", rejectionsSchema, "timestamp ASC, rowid ASC", outputPath, realtime),
	}
}

// Write persists a rejection.
func (w *RejectionsWriter) Write(rejection types.Rejection) error {
	return w.insert(squirrel.Insert("rejections").
		Columns("run_id", "instrument", "timeframe", "side", "timestamp", "code", "message", "reason").
		Values(rejection.RunID, rejection.Key.Instrument, string(rejection.Key.Timeframe), string(rejection.Side),
			rejection.Timestamp, int(rejection.Code), rejection.Message, rejection.Reason))
}
