package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/loomhq/loom/checkpoint"
	"github.com/loomhq/loom/store/memory"
)

func newWrapped() *Saver {
	return WrapWith(memory.New(),
		tracenoop.NewTracerProvider().Tracer("test"),
		noop.NewMeterProvider().Meter("test"),
	)
}

// The decorator must be behavior-transparent: every operation flows
// through to the inner saver with results and errors intact.
func TestWrapperDelegates(t *testing.T) {
	t.Parallel()
	s := newWrapped()
	ctx := context.Background()

	ckptID, err := s.Put(ctx, "thr_a", map[string]any{"step": 1}, map[string]any{"source": "input"}, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.PutWrites(ctx, "thr_a", ckptID, "task_1", []checkpoint.Write{
		{Channel: "messages", Value: "hi"},
	}); err != nil {
		t.Fatalf("PutWrites: %v", err)
	}

	tup, err := s.GetTuple(ctx, "thr_a")
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tup == nil || tup.Ref.CheckpointID != ckptID || len(tup.PendingWrites) != 1 {
		t.Fatalf("tuple = %+v, want the inner store's head", tup)
	}

	tuples, err := s.List(ctx, "thr_a", checkpoint.ListOpts{})
	if err != nil || len(tuples) != 1 {
		t.Fatalf("List = (%d, %v), want 1 tuple", len(tuples), err)
	}

	data, err := s.ExportState(ctx)
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}
	other := newWrapped()
	if err := other.ImportState(ctx, data); err != nil {
		t.Fatalf("ImportState: %v", err)
	}
	if tup, err := other.GetTuple(ctx, "thr_a"); err != nil || tup == nil {
		t.Fatalf("imported tuple = (%+v, %v)", tup, err)
	}

	if err := s.DeleteThread(ctx, "thr_a"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if tup, _ := s.GetTuple(ctx, "thr_a"); tup != nil {
		t.Fatal("delete did not reach the inner store")
	}
}

func TestWrapperPropagatesErrors(t *testing.T) {
	t.Parallel()
	s := newWrapped()

	_, err := s.Put(context.Background(), "", map[string]any{}, nil, "")
	if err == nil {
		t.Fatal("expected the inner store's validation error")
	}
}

func TestInner(t *testing.T) {
	t.Parallel()
	inner := memory.New()
	if Wrap(inner).Inner() != checkpoint.Saver(inner) {
		t.Fatal("Inner must return the wrapped saver")
	}
}
