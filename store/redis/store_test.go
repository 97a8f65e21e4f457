//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/loomhq/loom/checkpoint"
	redisstore "github.com/loomhq/loom/store/redis"
)

// setupTestStore starts a Redis container and returns a connected Store.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})

	s := redisstore.New(client)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func TestRedisPutGetTuple(t *testing.T) {
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

func TestRedisPendingWrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ckptID, err := s.Put(ctx, "thr_a", map[string]any{"step": 1}, nil, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A retried task overwrites its recognized-channel write.
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

func TestRedisListFilterLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i, source := range []string{"input", "loop", "loop"} {
		if _, err := s.Put(ctx, "thr_a", map[string]any{"step": i}, map[string]any{"source": source}, ""); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	tuples, err := s.List(ctx, "thr_a", checkpoint.ListOpts{Filter: map[string]any{"source": "loop"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tuples) != 2 {
		t.Fatalf("filtered = %d, want 2", len(tuples))
	}

	tuples, err = s.List(ctx, "thr_a", checkpoint.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tuples) != 1 {
		t.Fatalf("limited = %d, want 1", len(tuples))
	}
}

func TestRedisDeleteThread(t *testing.T) {
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

func TestRedisExportImportRoundTrip(t *testing.T) {
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
	if len(tup.PendingWrites) != 1 {
		t.Fatalf("pending writes = %d, want 1", len(tup.PendingWrites))
	}
}

func TestRedisPruneThread(t *testing.T) {
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
}
