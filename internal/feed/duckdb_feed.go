package feed

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-papertrade/internal/logger"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"go.uber.org/zap"
)

// DuckDBFeedOptions filters the replayed rows.
type DuckDBFeedOptions struct {
	// Start keeps rows at or after this time.
	Start optional.Option[time.Time]
	// End keeps rows strictly before this time.
	End optional.Option[time.Time]
	// Instruments keeps only these symbols. Empty keeps every symbol.
	Instruments []string
}

// DuckDBFeed replays a Parquet or CSV file of candles or ticks. The file must
// have time, symbol and volume columns and either a price column (ticks) or
// a close column (candles).
type DuckDBFeed struct {
	db          *sql.DB
	sq          squirrel.StatementBuilderType
	path        string
	priceColumn string
	options     DuckDBFeedOptions
	log         *logger.Logger
}

// NewDuckDBFeed opens path in an in-memory DuckDB database and exposes it as
// the market_data view.
func NewDuckDBFeed(path string, options DuckDBFeedOptions, log *logger.Logger) (*DuckDBFeed, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	reader, err := readerFor(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "market data file %s not found", path)
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	// CREATE VIEW is not expressible with squirrel.
	query := fmt.Sprintf(`CREATE VIEW market_data AS SELECT * FROM %s('%s');`, reader, path)
	if _, err := db.Exec(query); err != nil {
		db.Close()

		return nil, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to read %s", path)
	}

	feed := &DuckDBFeed{
		db:          db,
		sq:          squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		path:        path,
		priceColumn: "",
		options:     options,
		log:         log,
	}

	column, err := feed.detectPriceColumn()
	if err != nil {
		db.Close()

		return nil, err
	}

	feed.priceColumn = column

	log.Debug("DuckDB feed opened",
		zap.String("path", path),
		zap.String("price_column", column),
		zap.Strings("instruments", options.Instruments),
	)

	return feed, nil
}

func readerFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "read_parquet", nil
	case ".csv":
		return "read_csv_auto", nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported market data file %s", path)
	}
}

//nolint:funcorder // helper for NewDuckDBFeed
func (f *DuckDBFeed) detectPriceColumn() (string, error) {
	rows, err := f.db.Query(`SELECT column_name FROM (DESCRIBE market_data)`)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to describe market data", err)
	}
	defer rows.Close()

	var columns []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan column name", err)
		}

		columns = append(columns, strings.ToLower(name))
	}

	if err := rows.Err(); err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to describe market data", err)
	}

	for _, required := range []string{"time", "symbol"} {
		if !slices.Contains(columns, required) {
			return "", errors.Newf(errors.ErrCodeMarketDataParseFailed, "%s has no %s column", f.path, required)
		}
	}

	switch {
	case slices.Contains(columns, "price"):
		return "price", nil
	case slices.Contains(columns, "close"):
		return "close", nil
	default:
		return "", errors.Newf(errors.ErrCodeMarketDataParseFailed, "%s has neither a price nor a close column", f.path)
	}
}

//nolint:funcorder // helper for Count and Stream
func (f *DuckDBFeed) filter(builder squirrel.SelectBuilder) squirrel.SelectBuilder {
	if f.options.Start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": f.options.Start.Unwrap()})
	}

	if f.options.End.IsSome() {
		builder = builder.Where(squirrel.Lt{"time": f.options.End.Unwrap()})
	}

	if len(f.options.Instruments) > 0 {
		builder = builder.Where(squirrel.Eq{"symbol": f.options.Instruments})
	}

	return builder
}

// Count implements Counter.
func (f *DuckDBFeed) Count() (int, error) {
	query, args, err := f.filter(f.sq.Select("COUNT(*)").From("market_data")).ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := f.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count market data", err)
	}

	return count, nil
}

// Stream implements Feed. Rows are ordered by time, then symbol.
func (f *DuckDBFeed) Stream(ctx context.Context) iter.Seq2[types.PriceEvent, error] {
	return func(yield func(types.PriceEvent, error) bool) {
		query, args, err := f.filter(f.sq.
			Select("time", "symbol", f.priceColumn, "COALESCE(volume, 0)").
			From("market_data")).
			OrderBy("time ASC", "symbol ASC").
			ToSql()
		if err != nil {
			yield(types.PriceEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build stream query", err)) //nolint:exhaustruct

			return
		}

		rows, err := f.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(types.PriceEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query market data", err)) //nolint:exhaustruct

			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				timestamp time.Time
				symbol    string
				price     sql.NullFloat64
				volume    float64
			)

			if err := rows.Scan(&timestamp, &symbol, &price, &volume); err != nil {
				if !yield(types.PriceEvent{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to scan market data row", err)) { //nolint:exhaustruct
					return
				}

				continue
			}

			event := types.PriceEvent{
				Instrument: symbol,
				Time:       timestamp,
				Price:      price.Float64,
				Volume:     volume,
			}

			if !yield(event, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil && ctx.Err() == nil {
			yield(types.PriceEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read market data", err)) //nolint:exhaustruct
		}
	}
}

// Path returns the replayed file.
func (f *DuckDBFeed) Path() string {
	return f.path
}

// Close releases the database.
func (f *DuckDBFeed) Close() error {
	return f.db.Close()
}
