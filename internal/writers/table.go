// Package writers persists run records into Parquet files through in-memory
// DuckDB tables.
package writers

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// tableWriter is an append-only DuckDB table mirrored to one Parquet file.
type tableWriter struct {
	db         *sql.DB
	table      string
	schema     string
	orderBy    string
	outputPath string
	realtime   bool
	mu         sync.Mutex
}

func newTableWriter(table, schema, orderBy, outputPath string, realtime bool) *tableWriter {
	return &tableWriter{
		db:         nil,
		table:      table,
		schema:     schema,
		orderBy:    orderBy,
		outputPath: outputPath,
		realtime:   realtime,
		mu:         sync.Mutex{},
	}
}

// Initialize opens the in-memory table and loads rows already exported to
// the output file.
func (w *tableWriter) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.outputPath), 0755); err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to create data directory", err)
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open DuckDB connection", err)
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", w.table, w.schema)); err != nil {
		db.Close()

		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to create %s table", w.table)
	}

	if _, err := os.Stat(w.outputPath); err == nil {
		query := fmt.Sprintf("INSERT INTO %s SELECT * FROM read_parquet('%s')", w.table, w.outputPath)
		if _, err := db.Exec(query); err != nil {
			db.Close()

			return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to load existing %s", w.outputPath)
		}
	}

	w.db = db

	return nil
}

// insert runs one insert built by squirrel.
func (w *tableWriter) insert(builder squirrel.InsertBuilder) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return errors.New(errors.ErrCodeWriteFailed, "writer not initialized")
	}

	if _, err := builder.RunWith(w.db).Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to insert into %s", w.table)
	}

	if !w.realtime {
		return nil
	}

	return w.exportToParquet()
}

// Flush forces an export to parquet.
func (w *tableWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return errors.New(errors.ErrCodeWriteFailed, "writer not initialized")
	}

	return w.exportToParquet()
}

// Count returns the number of rows stored.
func (w *tableWriter) Count() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return 0, errors.New(errors.ErrCodeWriteFailed, "writer not initialized")
	}

	var count int
	if err := w.db.QueryRow("SELECT COUNT(*) FROM " + w.table).Scan(&count); err != nil {
		return 0, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to count %s", w.table)
	}

	return count, nil
}

// OutputPath returns the parquet file path.
func (w *tableWriter) OutputPath() string {
	return w.outputPath
}

// Close releases database resources.
func (w *tableWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return nil
	}

	err := w.db.Close()
	w.db = nil

	if err != nil {
		return errors.Wrap(errors.ErrCodeWriteFailed, "failed to close database", err)
	}

	return nil
}

//nolint:funcorder // helper method used by insert and Flush
func (w *tableWriter) exportToParquet() error {
	query := fmt.Sprintf("COPY (SELECT * FROM %s ORDER BY %s) TO '%s' (FORMAT PARQUET)", w.table, w.orderBy, w.outputPath)
	if _, err := w.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to export %s to parquet", w.table)
	}

	return nil
}
