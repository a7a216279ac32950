package writers

import (
	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

const anomaliesSchema = `
	run_id TEXT,
	instrument TEXT,
	resolution TEXT,
	timestamp TIMESTAMPTZ,
	code INTEGER,
	message TEXT
`

// AnomaliesWriter writes dropped market events to a parquet file.
type AnomaliesWriter struct {
	*tableWriter
}

// NewAnomaliesWriter creates a new AnomaliesWriter.
func NewAnomaliesWriter(outputPath string, realtime bool) *AnomaliesWriter {
	return &AnomaliesWriter{
		tableWriter: newTableWriter("anomalies", anomaliesSchema, "rowid ASC", outputPath, realtime),
	}
}

// Write persists an anomaly.
func (w *AnomaliesWriter) Write(anomaly types.Anomaly) error {
	return w.insert(squirrel.Insert("anomalies").
		Columns("run_id", "instrument", "resolution", "timestamp", "code", "message").
		Values(anomaly.RunID, anomaly.Instrument, string(anomaly.Resolution), anomaly.Timestamp,
			int(anomaly.Code), anomaly.Message))
}
