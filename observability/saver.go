// Package observability provides an OpenTelemetry decorator for
// checkpoint savers.
//
// The decorator wraps every saver operation in a span and records
// per-operation duration and count metrics. If no global providers
// are configured, the noop implementations make it a pass-through.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/checkpoint"
)

// scopeName is the instrumentation scope for loom tracing and metrics.
const scopeName = "github.com/loomhq/loom"

var _ checkpoint.Saver = (*Saver)(nil)

// Saver wraps a checkpoint.Saver with OpenTelemetry spans and metrics.
type Saver struct {
	inner  checkpoint.Saver
	tracer trace.Tracer

	duration   metric.Float64Histogram
	operations metric.Int64Counter
}

// Wrap decorates a saver using the global OTel providers.
func Wrap(inner checkpoint.Saver) *Saver {
	return WrapWith(inner, otel.Tracer(scopeName), otel.Meter(scopeName))
}

// WrapWith decorates a saver using the provided tracer and meter.
// This variant allows injecting specific providers for testing.
func WrapWith(inner checkpoint.Saver, tracer trace.Tracer, meter metric.Meter) *Saver {
	duration, dErr := meter.Float64Histogram(
		"loom.checkpoint.duration",
		metric.WithDescription("Duration of checkpoint saver operations in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	operations, oErr := meter.Int64Counter(
		"loom.checkpoint.operations",
		metric.WithDescription("Total number of checkpoint saver operations"),
		metric.WithUnit("{operation}"),
	)
	_ = oErr // noop fallback guaranteed by OTel API contract

	return &Saver{
		inner:      inner,
		tracer:     tracer,
		duration:   duration,
		operations: operations,
	}
}

// Inner returns the wrapped saver.
func (s *Saver) Inner() checkpoint.Saver { return s.inner }

func (s *Saver) observe(ctx context.Context, op, threadID string, fn func(context.Context) error) error {
	attrs := []attribute.KeyValue{
		attribute.String("loom.operation", op),
	}
	if threadID != "" {
		attrs = append(attrs, attribute.String("loom.thread_id", threadID))
	}

	ctx, span := s.tracer.Start(ctx, "loom.checkpoint."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start).Seconds()

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	mAttrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	)
	s.duration.Record(ctx, elapsed, mAttrs)
	s.operations.Add(ctx, 1, mAttrs)

	return err
}

func (s *Saver) Put(ctx context.Context, threadID string, ckpt any, metadata map[string]any, parentCheckpointID string) (string, error) {
	var id string
	err := s.observe(ctx, "put", threadID, func(ctx context.Context) error {
		var opErr error
		id, opErr = s.inner.Put(ctx, threadID, ckpt, metadata, parentCheckpointID)
		return opErr
	})
	return id, err
}

func (s *Saver) GetTuple(ctx context.Context, threadID string) (*checkpoint.Tuple, error) {
	var t *checkpoint.Tuple
	err := s.observe(ctx, "get_tuple", threadID, func(ctx context.Context) error {
		var opErr error
		t, opErr = s.inner.GetTuple(ctx, threadID)
		return opErr
	})
	return t, err
}

func (s *Saver) PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []checkpoint.Write) error {
	return s.observe(ctx, "put_writes", threadID, func(ctx context.Context) error {
		return s.inner.PutWrites(ctx, threadID, checkpointID, taskID, writes)
	})
}

func (s *Saver) List(ctx context.Context, threadID string, opts checkpoint.ListOpts) ([]*checkpoint.Tuple, error) {
	var tuples []*checkpoint.Tuple
	err := s.observe(ctx, "list", threadID, func(ctx context.Context) error {
		var opErr error
		tuples, opErr = s.inner.List(ctx, threadID, opts)
		return opErr
	})
	return tuples, err
}

func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	return s.observe(ctx, "delete_thread", threadID, func(ctx context.Context) error {
		return s.inner.DeleteThread(ctx, threadID)
	})
}

func (s *Saver) ExportState(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.observe(ctx, "export_state", "", func(ctx context.Context) error {
		var opErr error
		data, opErr = s.inner.ExportState(ctx)
		return opErr
	})
	return data, err
}

func (s *Saver) ImportState(ctx context.Context, data []byte) error {
	return s.observe(ctx, "import_state", "", func(ctx context.Context) error {
		return s.inner.ImportState(ctx, data)
	})
}
