package database

import (
	"context"
	"strings"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedPool wraps a DatabasePool with a span and a debug log per statement.
type TracedPool struct {
	pool   DatabasePool
	logger *logrus.Logger
}

// NewTracedPool wraps pool. A nil logger disables statement logs.
func NewTracedPool(pool DatabasePool, logger *logrus.Logger) *TracedPool {
	return &TracedPool{pool: pool, logger: logger}
}

// Query executes a query that returns rows.
func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := p.start(ctx, "query", sql)
	defer span.End()

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	recordError(span, err)
	logging.LogDatabaseOperation(p.logger, "query", tableOf(sql), time.Since(start), -1)
	return rows, err
}

// QueryRow executes a query expected to return at most one row.
func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := p.start(ctx, "query_row", sql)
	defer span.End()

	start := time.Now()
	row := p.pool.QueryRow(ctx, sql, args...)
	logging.LogDatabaseOperation(p.logger, "query_row", tableOf(sql), time.Since(start), 1)
	return row
}

// Exec executes a statement without returning rows.
func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := p.start(ctx, "exec", sql)
	defer span.End()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	recordError(span, err)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	logging.LogDatabaseOperation(p.logger, "exec", tableOf(sql), time.Since(start), tag.RowsAffected())
	return tag, err
}

func (p *TracedPool) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return telemetry.StartStage(ctx, "db."+op,
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", tableOf(sql)),
	)
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// tableOf returns the first identifier after FROM, INTO or UPDATE.
func tableOf(sql string) string {
	fields := strings.Fields(strings.ToLower(sql))
	for i, f := range fields {
		switch f {
		case "from", "into", "update":
			if i+1 < len(fields) {
				return strings.Trim(fields[i+1], "(),;")
			}
		}
	}
	return "unknown"
}
