package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope of the engine's spans.
const ScopeName = "github.com/aretw0/recall"

// InitTracing installs an OTLP/HTTP trace exporter and returns a tracer for the engine
// plus a shutdown function that flushes pending spans.
// An empty endpoint defers to the standard OTEL_EXPORTER_OTLP_* environment variables.
func InitTracing(ctx context.Context, endpoint, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	var opts []otlptracehttp.Option
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	if serviceName == "" {
		serviceName = "recall"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(ScopeName), tp.Shutdown, nil
}
