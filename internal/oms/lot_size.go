package oms

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// LotSizeLookup returns the minimum tradable multiple of an instrument.
type LotSizeLookup interface {
	LotSize(instrument string) (int64, error)
}

// StaticLotSizes is a LotSizeLookup backed by a map. Instruments missing from
// the map use Default; when Default is not positive they are unknown.
type StaticLotSizes struct {
	Default     int64
	Instruments map[string]int64
}

// NewStaticLotSizes creates a StaticLotSizes.
func NewStaticLotSizes(defaultLot int64, instruments map[string]int64) *StaticLotSizes {
	if instruments == nil {
		instruments = make(map[string]int64)
	}

	return &StaticLotSizes{
		Default:     defaultLot,
		Instruments: instruments,
	}
}

// LotSize implements LotSizeLookup.
func (s *StaticLotSizes) LotSize(instrument string) (int64, error) {
	if lot, ok := s.Instruments[instrument]; ok {
		if lot <= 0 {
			return 0, errors.Newf(errors.ErrCodeUnknownInstrument, "instrument %s has no valid lot size (%d)", instrument, lot)
		}

		return lot, nil
	}

	if s.Default > 0 {
		return s.Default, nil
	}

	return 0, errors.Newf(errors.ErrCodeUnknownInstrument, "no lot size for instrument %s", instrument)
}

// LoadLotSizes reads a symbol master with `symbol` and `lot_size` columns from
// a CSV or Parquet file through DuckDB.
func LoadLotSizes(path string, defaultLot int64) (*StaticLotSizes, error) {
	source, err := fileSource(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}
	defer db.Close()

	query, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("symbol", "CAST(lot_size AS BIGINT)").
		From(source).
		Where(squirrel.NotEq{"symbol": nil}).
		OrderBy("symbol").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build lot size query", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to read lot sizes from %s", path)
	}
	defer rows.Close()

	lots := NewStaticLotSizes(defaultLot, nil)

	for rows.Next() {
		var (
			symbol string
			lot    int64
		)

		if err := rows.Scan(&symbol, &lot); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan lot size", err)
		}

		lots.Instruments[symbol] = lot
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating lot sizes", err)
	}

	return lots, nil
}

func fileSource(path string) (string, error) {
	escaped := strings.ReplaceAll(path, "'", "''")

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return fmt.Sprintf("read_csv_auto('%s', header=true)", escaped), nil
	case ".parquet":
		return fmt.Sprintf("read_parquet('%s')", escaped), nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported lot size file %q, expected .csv or .parquet", path)
	}
}
