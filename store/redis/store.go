package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/checkpoint"
	"github.com/loomhq/loom/id"
)

// Compile-time interface check.
var _ checkpoint.Saver = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithCodec sets the payload codec. Defaults to the JSON codec.
func WithCodec(c checkpoint.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements checkpoint.Saver backed by Redis.
type Store struct {
	client goredis.Cmdable
	codec  checkpoint.Codec
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		codec:  &checkpoint.JSONCodec{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Put encodes the snapshot and metadata and pushes the entry onto the
// head of the thread's recency list.
func (s *Store) Put(ctx context.Context, threadID string, ckpt any, metadata map[string]any, parentCheckpointID string) (string, error) {
	if threadID == "" {
		return "", checkpoint.ErrThreadIDMissing
	}

	ckptID, ok := checkpoint.PayloadID(ckpt)
	if !ok {
		ckptID = id.NewCheckpointID().String()
		if m, isMap := ckpt.(map[string]any); isMap {
			cp := make(map[string]any, len(m)+1)
			for k, v := range m {
				cp[k] = v
			}
			cp["id"] = ckptID
			ckpt = cp
		}
	}

	ckptBlob, err := s.codec.Encode(ckpt)
	if err != nil {
		return "", err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaBlob, err := s.codec.Encode(metadata)
	if err != nil {
		return "", err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, checkpointKey(threadID, ckptID),
		"checkpoint", string(ckptBlob),
		"metadata", string(metaBlob),
		"parent_id", parentCheckpointID,
	)
	pipe.LPush(ctx, threadKey(threadID), ckptID)
	pipe.SAdd(ctx, threadsKey, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("loom/redis: put checkpoint: %w", err)
	}
	return ckptID, nil
}

// GetTuple returns the thread's head checkpoint with its pending
// writes. A thread with no checkpoints yields (nil, nil).
func (s *Store) GetTuple(ctx context.Context, threadID string) (*checkpoint.Tuple, error) {
	if threadID == "" {
		return nil, checkpoint.ErrThreadIDMissing
	}

	headID, err := s.client.LIndex(ctx, threadKey(threadID), 0).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loom/redis: head lookup: %w", err)
	}
	return s.tuple(ctx, threadID, headID)
}

func (s *Store) tuple(ctx context.Context, threadID, ckptID string) (*checkpoint.Tuple, error) {
	vals, err := s.client.HGetAll(ctx, checkpointKey(threadID, ckptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: get checkpoint: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	ckpt, err := s.codec.Decode(checkpoint.Blob(vals["checkpoint"]))
	if err != nil {
		return nil, err
	}
	md, err := s.codec.Decode(checkpoint.Blob(vals["metadata"]))
	if err != nil {
		return nil, err
	}
	metadata, _ := md.(map[string]any)

	pending, err := s.pendingWrites(ctx, threadID, ckptID)
	if err != nil {
		return nil, err
	}

	t := &checkpoint.Tuple{
		Ref:           checkpoint.Ref{ThreadID: threadID, CheckpointID: ckptID},
		Checkpoint:    ckpt,
		Metadata:      metadata,
		PendingWrites: pending,
	}
	if parent := vals["parent_id"]; parent != "" {
		t.Parent = &checkpoint.Ref{ThreadID: threadID, CheckpointID: parent}
	}
	return t, nil
}

func (s *Store) pendingWrites(ctx context.Context, threadID, ckptID string) ([]checkpoint.PendingWrite, error) {
	raw, err := s.client.HGetAll(ctx, writesKey(threadID, ckptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: get writes: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ledger := checkpoint.Ledger{}
	for k, v := range raw {
		var le checkpoint.LedgerEntry
		if err := json.Unmarshal([]byte(v), &le); err != nil {
			return nil, err
		}
		ledger[k] = le
	}
	return decodeLedger(ledger, s.codec)
}

// PutWrites records pending writes against a checkpoint, overwriting
// entries the same task already made on a recognized channel.
func (s *Store) PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []checkpoint.Write) error {
	if threadID == "" {
		return checkpoint.ErrThreadIDMissing
	}
	if checkpointID == "" {
		return checkpoint.ErrCheckpointIDMissing
	}
	if taskID == "" {
		return checkpoint.ErrTaskIDMissing
	}

	fields := make([]any, 0, len(writes)*2)
	for i, w := range writes {
		blob, err := s.codec.Encode(w.Value)
		if err != nil {
			return err
		}
		entry, err := json.Marshal(checkpoint.LedgerEntry{TaskID: taskID, Channel: w.Channel, Value: blob})
		if err != nil {
			return err
		}
		fields = append(fields, checkpoint.LedgerKey(taskID, w.Channel, i), string(entry))
	}
	if len(fields) == 0 {
		return nil
	}

	if err := s.client.HSet(ctx, writesKey(threadID, checkpointID), fields...).Err(); err != nil {
		return fmt.Errorf("loom/redis: put writes: %w", err)
	}
	return nil
}

// List returns the thread's checkpoints newest-first with metadata
// filtering and limit.
func (s *Store) List(ctx context.Context, threadID string, opts checkpoint.ListOpts) ([]*checkpoint.Tuple, error) {
	if threadID == "" {
		return nil, nil
	}

	ids, err := s.client.LRange(ctx, threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list: %w", err)
	}

	var result []*checkpoint.Tuple
	for _, ckptID := range ids {
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
		t, tErr := s.tuple(ctx, threadID, ckptID)
		if tErr != nil {
			return nil, tErr
		}
		if t == nil {
			continue
		}
		if len(opts.Filter) > 0 && !checkpoint.MatchesFilter(t.Metadata, opts.Filter, s.codec) {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// DeleteThread removes the thread's list, every checkpoint hash, and
// every ledger hash. No-op for unknown threads.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}

	ids, err := s.client.LRange(ctx, threadKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: delete thread: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, ckptID := range ids {
		pipe.Del(ctx, checkpointKey(threadID, ckptID))
		pipe.Del(ctx, writesKey(threadID, ckptID))
	}
	pipe.Del(ctx, threadKey(threadID))
	pipe.SRem(ctx, threadsKey, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: delete thread: %w", err)
	}
	return nil
}

// ExportState serializes everything under the loom prefix into one
// versioned blob.
func (s *Store) ExportState(ctx context.Context) ([]byte, error) {
	threads, err := s.client.SMembers(ctx, threadsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: export: %w", err)
	}

	state := checkpoint.NewState()
	for _, threadID := range threads {
		ids, lErr := s.client.LRange(ctx, threadKey(threadID), 0, -1).Result()
		if lErr != nil {
			return nil, fmt.Errorf("loom/redis: export: %w", lErr)
		}
		stored := make([]checkpoint.StoredCheckpoint, 0, len(ids))
		for _, ckptID := range ids {
			vals, hErr := s.client.HGetAll(ctx, checkpointKey(threadID, ckptID)).Result()
			if hErr != nil {
				return nil, fmt.Errorf("loom/redis: export: %w", hErr)
			}
			if len(vals) == 0 {
				continue
			}
			stored = append(stored, checkpoint.StoredCheckpoint{
				Checkpoint: checkpoint.Blob(vals["checkpoint"]),
				Metadata:   checkpoint.Blob(vals["metadata"]),
				ParentID:   vals["parent_id"],
			})

			raw, wErr := s.client.HGetAll(ctx, writesKey(threadID, ckptID)).Result()
			if wErr != nil {
				return nil, fmt.Errorf("loom/redis: export: %w", wErr)
			}
			if len(raw) == 0 {
				continue
			}
			ledger := checkpoint.Ledger{}
			for k, v := range raw {
				var le checkpoint.LedgerEntry
				if uErr := json.Unmarshal([]byte(v), &le); uErr != nil {
					return nil, uErr
				}
				ledger[k] = le
			}
			encoded, eErr := checkpoint.EncodeLedger(ledger)
			if eErr != nil {
				return nil, eErr
			}
			state.Writes[checkpoint.WritesKey(threadID, ckptID)] = encoded
		}
		state.Storage[threadID] = stored
	}
	return state.Encode()
}

// ImportState replaces everything under the loom prefix with the
// blob's contents.
func (s *Store) ImportState(ctx context.Context, data []byte) error {
	state, err := checkpoint.ParseState(data)
	if err != nil {
		return err
	}

	// Clear existing loom data first.
	existing, err := s.client.SMembers(ctx, threadsKey).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: import: %w", err)
	}
	for _, threadID := range existing {
		if dErr := s.DeleteThread(ctx, threadID); dErr != nil {
			return dErr
		}
	}

	for threadID, stored := range state.Storage {
		pipe := s.client.TxPipeline()
		for _, sc := range stored {
			ckptID := ""
			if v, decErr := s.codec.Decode(sc.Checkpoint); decErr == nil {
				ckptID, _ = checkpoint.PayloadID(v)
			}
			if ckptID == "" {
				ckptID = id.NewCheckpointID().String()
			}
			pipe.HSet(ctx, checkpointKey(threadID, ckptID),
				"checkpoint", string(sc.Checkpoint),
				"metadata", string(sc.Metadata),
				"parent_id", sc.ParentID,
			)
			// RPush preserves newest-first order when walking the
			// stored list head to tail.
			pipe.RPush(ctx, threadKey(threadID), ckptID)
		}
		pipe.SAdd(ctx, threadsKey, threadID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return fmt.Errorf("loom/redis: import: %w", pErr)
		}
	}

	for key, encoded := range state.Writes {
		threadID, ckptID, ok := checkpoint.SplitWritesKey(key)
		if !ok {
			continue
		}
		ledger, pErr := checkpoint.ParseLedger(encoded)
		if pErr != nil {
			return pErr
		}
		fields := make([]any, 0, len(ledger)*2)
		for k, le := range ledger {
			entry, mErr := json.Marshal(le)
			if mErr != nil {
				return mErr
			}
			fields = append(fields, k, string(entry))
		}
		if len(fields) == 0 {
			continue
		}
		if hErr := s.client.HSet(ctx, writesKey(threadID, ckptID), fields...).Err(); hErr != nil {
			return fmt.Errorf("loom/redis: import: %w", hErr)
		}
	}
	return nil
}

// Threads returns all thread ids with at least one checkpoint.
func (s *Store) Threads(ctx context.Context) ([]string, error) {
	threads, err := s.client.SMembers(ctx, threadsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: threads: %w", err)
	}
	sort.Strings(threads)
	return threads, nil
}

// PruneThread trims the thread to its newest keep checkpoints and
// deletes the trimmed entries' hashes and ledgers.
func (s *Store) PruneThread(ctx context.Context, threadID string, keep int) (int, error) {
	if threadID == "" {
		return 0, checkpoint.ErrThreadIDMissing
	}
	if keep < 1 {
		keep = 1
	}

	ids, err := s.client.LRange(ctx, threadKey(threadID), int64(keep), -1).Result()
	if err != nil {
		return 0, fmt.Errorf("loom/redis: prune: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	pipe.LTrim(ctx, threadKey(threadID), 0, int64(keep-1))
	for _, ckptID := range ids {
		pipe.Del(ctx, checkpointKey(threadID, ckptID))
		pipe.Del(ctx, writesKey(threadID, ckptID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("loom/redis: prune: %w", err)
	}
	return len(ids), nil
}

// decodeLedger turns an encoded ledger into sorted pending writes.
func decodeLedger(l checkpoint.Ledger, codec checkpoint.Codec) ([]checkpoint.PendingWrite, error) {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pending := make([]checkpoint.PendingWrite, 0, len(keys))
	for _, k := range keys {
		le := l[k]
		v, err := codec.Decode(le.Value)
		if err != nil {
			return nil, err
		}
		pending = append(pending, checkpoint.PendingWrite{TaskID: le.TaskID, Channel: le.Channel, Value: v})
	}
	return pending, nil
}
