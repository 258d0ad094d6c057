package obs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestPGXTracerSpans(t *testing.T) {
	rec := recordSpans(t)
	tr := PGXTracer{}

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "  delete from queue_dlq where id = $1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("DELETE 1")})

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT " + strings.Repeat("x", 400)})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "pg DELETE", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "esim_admin", attrs["db.name"])
	require.Equal(t, "1", attrs["db.rows_affected"])

	require.Equal(t, codes.Error, spans[1].Status().Code)
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "db.statement" {
			require.Len(t, kv.Value.AsString(), maxStatementLen+3)
		}
	}
}

func TestTracingDisabledExporter(t *testing.T) {
	shutdown, err := Tracing{Exporter: "none"}.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Tracing{Exporter: "zipkin"}.Start(context.Background())
	require.ErrorContains(t, err, "unsupported")
}
