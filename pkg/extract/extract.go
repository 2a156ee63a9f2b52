// Package extract reads newly appended CRCON rows past a cursor and turns them into export records.
//
// Every extractor scans forward only: rows with a primary key greater than the cursor, on the
// enabled servers, in ascending key order, at most Limit rows. The returned high-water mark is
// the largest key observed, including rows that were read but not exported.
package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"crconsync/pkg/logger"
	"crconsync/pkg/state"
)

// Querier is the read side of *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Result is the outcome of one extractor. On failure Records is empty, HighWater equals the
// cursor passed in and Err is set; sibling tables are unaffected.
type Result[T any] struct {
	Table     state.Table
	Records   []T
	HighWater int64
	Scanned   int
	Err       error
}

// OK reports whether the extraction succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

func failed[T any](table state.Table, since int64, err error) Result[T] {
	return Result[T]{Table: table, Records: []T{}, HighWater: since, Err: err}
}

// Config configures an Extractor.
type Config struct {
	// Dialect is the goqu dialect of the source database, "postgres" or "sqlite3".
	Dialect       string
	ServerNumbers []int64
	ServerNames   ServerNames
	// SessionLookback re-reads sessions closed within this window. Zero disables it.
	SessionLookback time.Duration
}

// Extractor runs the per-table queries.
type Extractor struct {
	db      Querier
	dialect goqu.DialectWrapper
	cfg     Config
	logger  *logger.Logger
	now     func() time.Time
}

// New returns an Extractor reading from db.
func New(db Querier, cfg Config, l *logger.Logger) *Extractor {
	if cfg.Dialect == "" {
		cfg.Dialect = "postgres"
	}
	return &Extractor{
		db:      db,
		dialect: goqu.Dialect(cfg.Dialect),
		cfg:     cfg,
		logger:  l.Named("extract"),
		now:     time.Now,
	}
}

// serverLabels are the enabled servers as text, the form log_lines.server is compared with.
func (e *Extractor) serverLabels() []string {
	out := make([]string, len(e.cfg.ServerNumbers))
	for i, n := range e.cfg.ServerNumbers {
		out[i] = fmt.Sprint(n)
	}
	return out
}

// query renders ds and runs it.
func (e *Extractor) query(ctx context.Context, ds *goqu.SelectDataset) (*sql.Rows, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	e.logger.Debug("query", zap.String("sql", query), zap.Any("args", args))
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// parseJSON decodes a JSON column. Empty, NULL and malformed values become nil; malformed ones
// are logged and never fail the row.
func (e *Extractor) parseJSON(raw []byte, table state.Table, field string, id int64) any {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		e.logger.Warn("malformed JSON column, exporting null",
			zap.String("table", string(table)),
			zap.String("field", field),
			zap.Int64("id", id),
			zap.Error(err))
		return nil
	}
	return v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func int64Ptr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func float64Ptr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
