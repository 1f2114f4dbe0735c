// Package tracer is a thin adapter over OpenTelemetry so services can record
// spans without depending on its APIs throughout the codebase.
package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans for the hot paths (token refresh, webhook processing).
type Tracer struct {
	tracer trace.Tracer
}

// Option configures the Tracer.
type Option func(*Tracer)

// WithTracer injects a custom OpenTelemetry tracer, useful in tests or when
// a pre-configured tracer is available.
func WithTracer(t trace.Tracer) Option {
	return func(tr *Tracer) {
		tr.tracer = t
	}
}

// New creates a tracer backed by the global tracer provider.
func New(opts ...Option) *Tracer {
	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer("ledgerbridge")
	}
	return t
}

// Span is a started span; End records the outcome.
type Span struct {
	span trace.Span
}

// Start creates a new span with the given name and string attributes.
func (t *Tracer) Start(ctx context.Context, name string, kv ...string) (context.Context, *Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// End completes the span, recording any error.
func (s *Span) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}
