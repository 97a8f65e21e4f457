package sqlitestore_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/loomhq/loom/checkpoint"
	sqlitestore "github.com/loomhq/loom/store/sqlite"
)

// setupTestStore returns a migrated store over an in-memory database.
func setupTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps the in-memory database alive for the test.
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	s := sqlitestore.New(db, sqlitestore.WithLogger(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSQLitePutGetTuple(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, "thr_a", map[string]any{"step": 1}, map[string]any{"source": "input"}, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := s.Put(ctx, "thr_a", map[string]any{"step": 2}, map[string]any{"source": "loop"}, first)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	tup, err := s.GetTuple(ctx, "thr_a")
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tup.Ref.CheckpointID != second {
		t.Fatalf("head = %q, want %q", tup.Ref.CheckpointID, second)
	}
	if tup.Parent == nil || tup.Parent.CheckpointID != first {
		t.Fatalf("parent = %+v, want %q", tup.Parent, first)
	}

	if tup, err := s.GetTuple(ctx, "thr_missing"); err != nil || tup != nil {
		t.Fatalf("empty thread = (%+v, %v), want (nil, nil)", tup, err)
	}
}

func TestSQLitePutValidation(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Put(context.Background(), "", map[string]any{"x": 1}, nil, ""); err == nil {
		t.Fatal("expected ErrThreadIDMissing")
	}
}

func TestSQLitePendingWrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ckptID, err := s.Put(ctx, "thr_a", map[string]any{"step": 1}, nil, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A retried task overwrites its recognized-channel write; a second
	// task accumulates.
	for _, v := range []string{"first", "second"} {
		if err := s.PutWrites(ctx, "thr_a", ckptID, "task_1", []checkpoint.Write{
			{Channel: "__interrupt__", Value: v},
		}); err != nil {
			t.Fatalf("PutWrites: %v", err)
		}
	}
	if err := s.PutWrites(ctx, "thr_a", ckptID, "task_2", []checkpoint.Write{
		{Channel: "messages", Value: "other"},
	}); err != nil {
		t.Fatalf("PutWrites: %v", err)
	}

	tup, err := s.GetTuple(ctx, "thr_a")
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if len(tup.PendingWrites) != 2 {
		t.Fatalf("pending writes = %d, want 2", len(tup.PendingWrites))
	}
}

func TestSQLiteListFilterLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i, source := range []string{"input", "loop", "loop", "update"} {
		if _, err := s.Put(ctx, "thr_a", map[string]any{"step": i}, map[string]any{"source": source}, ""); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	tuples, err := s.List(ctx, "thr_a", checkpoint.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tuples) != 4 {
		t.Fatalf("len = %d, want 4", len(tuples))
	}
	if tuples[0].Metadata["source"] != "update" {
		t.Fatalf("head metadata = %v, want newest entry first", tuples[0].Metadata)
	}

	tuples, err = s.List(ctx, "thr_a", checkpoint.ListOpts{
		Filter: map[string]any{"source": "loop"},
	})
	if err != nil || len(tuples) != 2 {
		t.Fatalf("filtered = (%d, %v), want 2", len(tuples), err)
	}

	tuples, err = s.List(ctx, "thr_a", checkpoint.ListOpts{Limit: 2})
	if err != nil || len(tuples) != 2 {
		t.Fatalf("limited = (%d, %v), want 2", len(tuples), err)
	}
}

func TestSQLiteDeleteThread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ckptID, err := s.Put(ctx, "thr_a", map[string]any{"step": 1}, nil, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.PutWrites(ctx, "thr_a", ckptID, "task_1", []checkpoint.Write{
		{Channel: "messages", Value: "x"},
	}); err != nil {
		t.Fatalf("PutWrites: %v", err)
	}
	if _, err := s.Put(ctx, "thr_b", map[string]any{"step": 1}, nil, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.DeleteThread(ctx, "thr_a"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if tup, err := s.GetTuple(ctx, "thr_a"); err != nil || tup != nil {
		t.Fatalf("thr_a after delete = (%+v, %v)", tup, err)
	}
	if tup, err := s.GetTuple(ctx, "thr_b"); err != nil || tup == nil {
		t.Fatalf("thr_b after delete = (%+v, %v), want intact", tup, err)
	}
}

func TestSQLiteExportImportRoundTrip(t *testing.T) {
	src := setupTestStore(t)
	dst := setupTestStore(t)
	ctx := context.Background()

	first, err := src.Put(ctx, "thr_a", map[string]any{"step": 1}, nil, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := src.Put(ctx, "thr_a", map[string]any{"step": 2}, nil, first)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := src.PutWrites(ctx, "thr_a", second, "task_1", []checkpoint.Write{
		{Channel: "__resume__", Value: "go"},
	}); err != nil {
		t.Fatalf("PutWrites: %v", err)
	}

	data, err := src.ExportState(ctx)
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}
	if err := dst.ImportState(ctx, data); err != nil {
		t.Fatalf("ImportState: %v", err)
	}

	tup, err := dst.GetTuple(ctx, "thr_a")
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tup.Ref.CheckpointID != second {
		t.Fatalf("imported head = %q, want %q", tup.Ref.CheckpointID, second)
	}
	if tup.Parent == nil || tup.Parent.CheckpointID != first {
		t.Fatal("parent linkage lost in round trip")
	}
	if len(tup.PendingWrites) != 1 {
		t.Fatalf("pending writes = %d, want 1", len(tup.PendingWrites))
	}
}

func TestSQLitePruneThread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Put(ctx, "thr_a", map[string]any{"step": i}, nil, ""); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	pruned, err := s.PruneThread(ctx, "thr_a", 2)
	if err != nil {
		t.Fatalf("PruneThread: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("pruned = %d, want 3", pruned)
	}

	tuples, err := s.List(ctx, "thr_a", checkpoint.ListOpts{})
	if err != nil || len(tuples) != 2 {
		t.Fatalf("remaining = (%d, %v), want 2", len(tuples), err)
	}

	threads, err := s.Threads(ctx)
	if err != nil || len(threads) != 1 || threads[0] != "thr_a" {
		t.Fatalf("threads = (%v, %v)", threads, err)
	}
}
