package database

import (
	"context"
	"time"

	"github.com/irfndi/decoupling-detector/internal/logging"
	"github.com/irfndi/decoupling-detector/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DatabasePool is the subset of pgxpool.Pool the repositories use. pgxmock
// pools satisfy it as well.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TracedDB wraps a DatabasePool with a span and a debug log line per call.
type TracedDB struct {
	Pool   DatabasePool
	logger logrus.FieldLogger
}

// NewTracedDB creates a new traced database connection
func NewTracedDB(pool DatabasePool, logger logrus.FieldLogger) *TracedDB {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TracedDB{
		Pool:   pool,
		logger: logging.WithComponent(logger, "database"),
	}
}

func (db *TracedDB) start(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, telemetry.GetDatabaseTracer(), "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", sql),
		),
	)
}

// Query executes a query that returns rows
func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "query", sql)
	defer span.End()

	start := time.Now()
	rows, err := db.Pool.Query(ctx, sql, args...)
	telemetry.RecordError(span, err)
	logging.LogDatabaseOperation(db.logger, "query", "", time.Since(start).Milliseconds(), -1)
	return rows, err
}

// QueryRow executes a query that returns a single row
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.start(ctx, "query_row", sql)
	defer span.End()

	start := time.Now()
	row := db.Pool.QueryRow(ctx, sql, args...)
	logging.LogDatabaseOperation(db.logger, "query_row", "", time.Since(start).Milliseconds(), -1)
	return row
}

// Exec executes a statement without returning rows
func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "exec", sql)
	defer span.End()

	start := time.Now()
	tag, err := db.Pool.Exec(ctx, sql, args...)
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	logging.LogDatabaseOperation(db.logger, "exec", "", time.Since(start).Milliseconds(), tag.RowsAffected())
	return tag, err
}

// Begin starts a transaction
func (db *TracedDB) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := db.start(ctx, "begin", "BEGIN")
	defer span.End()

	start := time.Now()
	tx, err := db.Pool.Begin(ctx)
	telemetry.RecordError(span, err)
	logging.LogDatabaseOperation(db.logger, "begin", "", time.Since(start).Milliseconds(), -1)
	return tx, err
}
