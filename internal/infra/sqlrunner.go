package infra

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is what stores need to run marker-tagged statements.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// ErrMissingMarker rejects statements without a "--sql <uuid>" first line.
var ErrMissingMarker = errors.New("sql: marker missing or invalid")

// SlowQueryThreshold is the duration above which statements log at warn.
const SlowQueryThreshold = 250 * time.Millisecond

// SQLRunner strips the audit marker from each statement, runs it on the pool
// and logs it under that marker.
type SQLRunner struct {
	conn   SQLExecutor
	logger Logger
	now    func() time.Time
}

// NewSQLRunner wraps a pgxpool.Pool (or anything with the same methods).
func NewSQLRunner(conn SQLExecutor, logger Logger) *SQLRunner {
	return &SQLRunner{conn: conn, logger: logger, now: time.Now}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := r.now()
	tag, err := r.conn.Exec(ctx, stmt, args...)
	r.observe(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Msg("sql")
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &timedRow{
		row:    r.conn.QueryRow(ctx, stmt, args...),
		runner: r,
		marker: marker,
		start:  r.now(),
	}
}

// observe picks the level from the outcome and latency. No rows is a normal
// outcome for lookups.
func (r *SQLRunner) observe(marker, op string, start time.Time, err error) *zerolog.Event {
	elapsed := r.now().Sub(start)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.logger.Error().Err(err)
	case elapsed >= SlowQueryThreshold:
		ev = r.logger.Warn().Bool("slow", true)
	default:
		ev = r.logger.Debug()
	}
	return ev.Str("sql", marker).Str("op", op).Dur("elapsed", elapsed)
}

// timedRow defers logging until Scan, when the round trip has happened.
type timedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (t *timedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.observe(t.marker, "query_row", t.start, err).Bool("found", err == nil).Msg("sql")
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// extractMarker splits "--sql <uuid>\n<statement>" into its parts.
func extractMarker(query string) (string, string, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(query), "\n")
	raw, ok := strings.CutPrefix(strings.TrimSpace(first), "--sql ")
	if !ok || len(raw) != 36 {
		return "", "", ErrMissingMarker
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", "", ErrMissingMarker
	}
	stmt := strings.TrimSpace(rest)
	if stmt == "" {
		return "", "", errors.New("sql: empty statement")
	}
	return id.String(), stmt, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
