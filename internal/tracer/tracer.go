// Package tracer abstracts span creation for query compilation and
// execution. OpenTelemetry is supported through OtelTracer; NoopTracer is
// used when tracing is off.
package tracer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is the subset of a tracing span the compiler and runner use.
type Span interface {
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code codes.Code, description string)
	End()
}

// NoopTracer discards everything.
type NoopTracer struct{}

// StartSpan returns ctx unchanged and a span that records nothing.
func (NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// NoopSpan records nothing.
type NoopSpan struct{}

func (NoopSpan) SetAttributes(_ ...attribute.KeyValue) {}
func (NoopSpan) RecordError(_ error)                   {}
func (NoopSpan) SetStatus(_ codes.Code, _ string)      {}
func (NoopSpan) End()                                  {}

// OtelTracer adapts an OpenTelemetry tracer.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer wraps t, which must not be nil.
func NewOtelTracer(t trace.Tracer) *OtelTracer {
	return &OtelTracer{tracer: t}
}

// StartSpan starts an OpenTelemetry span.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) { s.span.SetAttributes(attrs...) }
func (s *otelSpan) RecordError(err error)                     { s.span.RecordError(err) }
func (s *otelSpan) SetStatus(code codes.Code, desc string)    { s.span.SetStatus(code, desc) }
func (s *otelSpan) End()                                      { s.span.End() }

// CompileMetadata describes one compiled query.
type CompileMetadata struct {
	Dialect     string
	SQL         string
	Columns     int
	Args        int
	Collections int
	Error       error
}

// AddCompileAttributes records m on span and sets its status.
func AddCompileAttributes(span Span, m *CompileMetadata) {
	span.SetAttributes(
		attribute.String("relq.dialect", m.Dialect),
		attribute.Int("relq.columns", m.Columns),
		attribute.Int("relq.args", m.Args),
		attribute.Int("relq.collections", m.Collections),
	)
	if m.SQL != "" {
		span.SetAttributes(attribute.String("db.statement", m.SQL))
	}
	setStatus(span, m.Error)
}

// QueryMetadata describes one executed query, using the OpenTelemetry
// database semantic conventions where one exists.
type QueryMetadata struct {
	SQL      string
	Database string
	Duration time.Duration
	Rows     int64
	Records  int
	Error    error
}

// AddQueryAttributes records m on span and sets its status.
// See https://opentelemetry.io/docs/specs/semconv/database/
func AddQueryAttributes(span Span, m *QueryMetadata) {
	span.SetAttributes(
		attribute.String("db.system", m.Database),
		attribute.String("db.statement", m.SQL),
		attribute.String("db.operation", "SELECT"),
		attribute.Float64("db.duration_ms", float64(m.Duration.Microseconds())/1000.0),
		attribute.Int64("db.rows_returned", m.Rows),
		attribute.Int("relq.records", m.Records),
	)
	setStatus(span, m.Error)
}

func setStatus(span Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
