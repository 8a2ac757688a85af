package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is what the stores need from the database. SQLRunner and the
// test fakes implement it.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var errMissingMarker = errors.New("sql marker missing or invalid")

const defaultSlowQuery = 250 * time.Millisecond

// SQLRunner executes inline queries that carry a --sql <uuid> marker line so
// every statement can be traced back to its constant in sqlinline. Statements
// slower than SlowQuery are logged at warn.
type SQLRunner struct {
	Pool      *pgxpool.Pool
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{
		Pool:      pool,
		Logger:    NewComponentLogger(logger, "sql"),
		SlowQuery: defaultSlowQuery,
	}
}

// IsNoRows reports whether err is the pgx empty-result sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Ping checks connectivity for the health endpoint.
func (r *SQLRunner) Ping(ctx context.Context) error {
	if r == nil || r.Pool == nil {
		return errors.New("sql runner not configured")
	}
	return r.Pool.Ping(ctx)
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, body, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("marker", marker).Msg("sql exec failed")
		return tag, fmt.Errorf("sql[%s]: %w", marker, err)
	}
	r.observe(marker, "exec", start).Int64("rows", tag.RowsAffected()).Msg("sql exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{row: r.Pool.QueryRow(ctx, body, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, body, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("marker", marker).Msg("sql query failed")
		return nil, fmt.Errorf("sql[%s]: %w", marker, err)
	}
	return loggingRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// observe picks the log level for a finished statement.
func (r *SQLRunner) observe(marker, op string, start time.Time) *zerolog.Event {
	took := time.Since(start)
	ev := r.Logger.Debug()
	if r.SlowQuery > 0 && took > r.SlowQuery {
		ev = r.Logger.Warn().Bool("slow", true)
	}
	return ev.Str("marker", marker).Str("op", op).Dur("took", took)
}

type loggingRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

// Scan returns pgx errors unwrapped so callers can test IsNoRows.
func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	switch {
	case err == nil:
		l.runner.observe(l.marker, "query_row", l.start).Msg("sql query_row")
	case IsNoRows(err):
		l.runner.observe(l.marker, "query_row", l.start).Bool("empty", true).Msg("sql query_row")
	default:
		l.runner.Logger.Error().Err(err).Str("marker", l.marker).Msg("sql scan failed")
	}
	return err
}

type loggingRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
}

func (l loggingRows) Close() {
	l.Rows.Close()
	l.runner.observe(l.marker, "query", l.start).Msg("sql query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// extractMarker splits the marker id from the statement that is sent to
// Postgres.
func extractMarker(query string) (string, string, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(query), "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return "", "", errMissingMarker
	}
	if strings.TrimSpace(rest) == "" {
		return "", "", errors.New("sql statement empty after marker")
	}
	return strings.TrimPrefix(first, "--sql "), rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
