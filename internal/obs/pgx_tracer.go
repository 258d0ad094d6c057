package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

// PGXTracer is a pgx.QueryTracer that opens one client span per statement
// on the audit and dead letter tables.
type PGXTracer struct {
	// Database is reported as db.name; empty means "esim_admin".
	Database string
}

func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	db := t.Database
	if db == "" {
		db = "esim_admin"
	}
	sql := strings.TrimSpace(data.SQL)
	op := "query"
	if f := strings.Fields(sql); len(f) > 0 {
		op = strings.ToUpper(f[0])
	}
	if len(sql) > maxStatementLen {
		sql = sql[:maxStatementLen] + "..."
	}
	ctx, _ = otel.Tracer("github.com/noah-isme/esim-admin/pgx").Start(ctx, "pg "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.name", db),
			attribute.String("db.operation", op),
			attribute.String("db.statement", sql),
		),
	)
	return ctx
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()
}
