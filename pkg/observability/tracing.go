// Package observability provides tracing and metrics for datatoolset
// operations: otel spans exported to stderr and a prometheus registry
// written as a textfile.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

// tracer is replaced by Initialize; spans are dropped until then
var tracer trace.Tracer = noop.NewTracerProvider().Tracer("datatoolset")

// Span wraps a tracing span and batches its attributes until End
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span named operationName
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, operationName)

	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// End records err, if any, and ends the span
func (s *Span) End(err error) {
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.attributes = append(s.attributes,
			attribute.Bool("error", true),
			attribute.String("error.type", string(errors.TypeOf(err))))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}

// Duration returns the time since the span started
func (s *Span) Duration() time.Duration {
	return time.Since(s.startTime)
}

// OperationTracer traces toolkit operations over files of one format
type OperationTracer struct {
	format string
}

// NewOperationTracer creates a tracer labelling spans and metrics with format
func NewOperationTracer(format string) *OperationTracer {
	return &OperationTracer{format: format}
}

// Trace runs fn inside a span named after operation and records its
// duration, status and the number of rows fn reports
func (ot *OperationTracer) Trace(ctx context.Context, operation, path string, fn func(ctx context.Context) (int64, error)) error {
	ctx, span := NewSpan(ctx, "datatoolset."+operation)
	span.SetAttribute("operation", operation)
	span.SetAttribute("file.path", path)
	span.SetAttribute("file.format", ot.format)

	rows, err := fn(ctx)
	span.SetAttribute("rows", rows)
	span.End(err)

	RecordOperation(operation, ot.format, span.Duration(), rows, err)
	return err
}
