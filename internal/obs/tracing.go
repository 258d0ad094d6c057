package obs

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Tracing describes the span pipeline of one binary. Exporter is "otlp"
// (the default) or "none"; Endpoint overrides OTEL_EXPORTER_OTLP_ENDPOINT.
type Tracing struct {
	Service     string
	Environment string
	Exporter    string
	Endpoint    string
	Ratio       float64
}

// Start installs the global tracer provider and the W3C propagators. The
// returned func flushes and stops the provider; it is a no-op when the
// exporter is switched off.
func (t Tracing) Start(ctx context.Context) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	exp, err := t.exporter(ctx)
	if err != nil || exp == nil {
		return noop, err
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(t.Service),
			semconv.DeploymentEnvironment(t.Environment),
		),
	)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return noop, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(t.sampler()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

// sampler honours an upstream sampling decision and samples Ratio of new
// root traces. Ratios outside (0,1] sample everything.
func (t Tracing) sampler() sdktrace.Sampler {
	if t.Ratio <= 0 || t.Ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.Ratio))
}

func (t Tracing) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	kind := strings.ToLower(strings.TrimSpace(t.Exporter))
	switch kind {
	case "none", "off", "disabled":
		return nil, nil
	case "", "otlp", "otlphttp":
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", kind)
	}
	var opts []otlptracehttp.Option
	if ep := strings.TrimSpace(t.Endpoint); ep != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(ep))
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return exp, nil
}
