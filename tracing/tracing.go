// Package tracing wraps the cache's suspension points (reconciliation
// cycles, authoritative increments and seeds) in OpenTelemetry spans. It is
// optional: with no provider configured the global one is used, which is a
// no-op until the application installs a real SDK.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/Keksclan/goRawrCache"

// Config holds the OpenTelemetry configuration.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider
}

// Tracer returns a configured [trace.Tracer].
func (c *Config) Tracer() trace.Tracer {
	var tp trace.TracerProvider
	if c != nil {
		tp = c.TracerProvider
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentation)
}

// Start opens an internal span named name carrying the cache namespace and,
// when non-empty, the logical key.
func (c *Config) Start(ctx context.Context, name, namespace, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("cache.namespace", namespace)}
	if key != "" {
		attrs = append(attrs, attribute.String("cache.key", key))
	}
	return c.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
