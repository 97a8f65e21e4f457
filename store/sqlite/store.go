package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/uptrace/bun"

	"github.com/loomhq/loom/checkpoint"
	"github.com/loomhq/loom/id"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ checkpoint.Saver = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithCodec sets the payload codec. Defaults to the JSON codec.
func WithCodec(c checkpoint.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is a Bun ORM implementation of checkpoint.Saver using the
// SQLite dialect.
type Store struct {
	db     *bun.DB
	codec  checkpoint.Codec
	logger *slog.Logger
}

// New creates a new SQLite store. The caller owns the db lifecycle —
// the Store will not close it.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		codec:  &checkpoint.JSONCodec{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS loom_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("loom/sqlite: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loom/sqlite: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM loom_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("loom/sqlite: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("loom/sqlite: read migration %s: %w", entry.Name(), readErr)
		}
		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("loom/sqlite: execute migration %s: %w", entry.Name(), execErr)
		}
		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO loom_migrations (filename) VALUES (?)`, entry.Name(),
		); recErr != nil {
			return fmt.Errorf("loom/sqlite: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

// Put encodes the snapshot and metadata and inserts it as the new
// thread head. Re-putting an existing checkpoint id moves it to the
// head with the new payload.
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

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var seq int64
		if qErr := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM loom_checkpoints WHERE thread_id = ?`,
			threadID,
		).Scan(&seq); qErr != nil {
			return qErr
		}

		model := &checkpointModel{
			ThreadID:     threadID,
			CheckpointID: ckptID,
			ParentID:     parentCheckpointID,
			Checkpoint:   string(ckptBlob),
			Metadata:     string(metaBlob),
			Seq:          seq,
		}
		_, iErr := tx.NewInsert().
			Model(model).
			On("CONFLICT (thread_id, checkpoint_id) DO UPDATE").
			Set("parent_id = EXCLUDED.parent_id").
			Set("checkpoint = EXCLUDED.checkpoint").
			Set("metadata = EXCLUDED.metadata").
			Set("seq = EXCLUDED.seq").
			Exec(ctx)
		return iErr
	})
	if err != nil {
		return "", fmt.Errorf("loom/sqlite: put checkpoint: %w", err)
	}
	return ckptID, nil
}

// GetTuple returns the thread's head checkpoint with its pending
// writes. A thread with no checkpoints yields (nil, nil).
func (s *Store) GetTuple(ctx context.Context, threadID string) (*checkpoint.Tuple, error) {
	if threadID == "" {
		return nil, checkpoint.ErrThreadIDMissing
	}

	model := new(checkpointModel)
	err := s.db.NewSelect().
		Model(model).
		Where("thread_id = ?", threadID).
		OrderExpr("seq DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loom/sqlite: head lookup: %w", err)
	}
	return s.tuple(ctx, model)
}

func (s *Store) tuple(ctx context.Context, m *checkpointModel) (*checkpoint.Tuple, error) {
	ckpt, err := s.codec.Decode(checkpoint.Blob(m.Checkpoint))
	if err != nil {
		return nil, err
	}
	md, err := s.codec.Decode(checkpoint.Blob(m.Metadata))
	if err != nil {
		return nil, err
	}
	metadata, _ := md.(map[string]any)

	var writeModels []writeModel
	err = s.db.NewSelect().
		Model(&writeModels).
		Where("thread_id = ?", m.ThreadID).
		Where("checkpoint_id = ?", m.CheckpointID).
		OrderExpr("ledger_key ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/sqlite: get writes: %w", err)
	}

	var pending []checkpoint.PendingWrite
	for i := range writeModels {
		wm := &writeModels[i]
		v, dErr := s.codec.Decode(checkpoint.Blob(wm.Value))
		if dErr != nil {
			return nil, dErr
		}
		pending = append(pending, checkpoint.PendingWrite{
			TaskID:  wm.TaskID,
			Channel: wm.Channel,
			Value:   v,
		})
	}

	t := &checkpoint.Tuple{
		Ref:           checkpoint.Ref{ThreadID: m.ThreadID, CheckpointID: m.CheckpointID},
		Checkpoint:    ckpt,
		Metadata:      metadata,
		PendingWrites: pending,
	}
	if m.ParentID != "" {
		t.Parent = &checkpoint.Ref{ThreadID: m.ThreadID, CheckpointID: m.ParentID}
	}
	return t, nil
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
	if len(writes) == 0 {
		return nil
	}

	models := make([]writeModel, 0, len(writes))
	for i, w := range writes {
		blob, err := s.codec.Encode(w.Value)
		if err != nil {
			return err
		}
		models = append(models, writeModel{
			ThreadID:     threadID,
			CheckpointID: checkpointID,
			LedgerKey:    checkpoint.LedgerKey(taskID, w.Channel, i),
			TaskID:       taskID,
			Channel:      w.Channel,
			Value:        string(blob),
		})
	}

	_, err := s.db.NewInsert().
		Model(&models).
		On("CONFLICT (thread_id, checkpoint_id, ledger_key) DO UPDATE").
		Set("task_id = EXCLUDED.task_id").
		Set("channel = EXCLUDED.channel").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("loom/sqlite: put writes: %w", err)
	}
	return nil
}

// List returns the thread's checkpoints newest-first with metadata
// filtering and limit.
func (s *Store) List(ctx context.Context, threadID string, opts checkpoint.ListOpts) ([]*checkpoint.Tuple, error) {
	if threadID == "" {
		return nil, nil
	}

	var models []checkpointModel
	err := s.db.NewSelect().
		Model(&models).
		Where("thread_id = ?", threadID).
		OrderExpr("seq DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/sqlite: list: %w", err)
	}

	var result []*checkpoint.Tuple
	for i := range models {
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
		t, tErr := s.tuple(ctx, &models[i])
		if tErr != nil {
			return nil, tErr
		}
		if len(opts.Filter) > 0 && !checkpoint.MatchesFilter(t.Metadata, opts.Filter, s.codec) {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// DeleteThread removes the thread's checkpoints and pending writes.
// No-op for unknown threads.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, dErr := tx.NewDelete().
			Model((*writeModel)(nil)).
			Where("thread_id = ?", threadID).
			Exec(ctx); dErr != nil {
			return dErr
		}
		_, dErr := tx.NewDelete().
			Model((*checkpointModel)(nil)).
			Where("thread_id = ?", threadID).
			Exec(ctx)
		return dErr
	})
	if err != nil {
		return fmt.Errorf("loom/sqlite: delete thread: %w", err)
	}
	return nil
}

// ExportState serializes every thread into one versioned blob.
func (s *Store) ExportState(ctx context.Context) ([]byte, error) {
	var models []checkpointModel
	err := s.db.NewSelect().
		Model(&models).
		OrderExpr("thread_id ASC, seq DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loom/sqlite: export: %w", err)
	}

	state := checkpoint.NewState()
	for i := range models {
		m := &models[i]
		state.Storage[m.ThreadID] = append(state.Storage[m.ThreadID], checkpoint.StoredCheckpoint{
			Checkpoint: checkpoint.Blob(m.Checkpoint),
			Metadata:   checkpoint.Blob(m.Metadata),
			ParentID:   m.ParentID,
		})
	}

	var writeModels []writeModel
	if err := s.db.NewSelect().Model(&writeModels).Scan(ctx); err != nil {
		return nil, fmt.Errorf("loom/sqlite: export: %w", err)
	}
	ledgers := map[string]checkpoint.Ledger{}
	for i := range writeModels {
		wm := &writeModels[i]
		key := checkpoint.WritesKey(wm.ThreadID, wm.CheckpointID)
		if ledgers[key] == nil {
			ledgers[key] = checkpoint.Ledger{}
		}
		ledgers[key][wm.LedgerKey] = wm.ledgerEntry()
	}
	for key, ledger := range ledgers {
		encoded, eErr := checkpoint.EncodeLedger(ledger)
		if eErr != nil {
			return nil, eErr
		}
		state.Writes[key] = encoded
	}
	return state.Encode()
}

// ImportState replaces all stored threads with the blob's contents.
func (s *Store) ImportState(ctx context.Context, data []byte) error {
	state, err := checkpoint.ParseState(data)
	if err != nil {
		return err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, dErr := tx.NewDelete().Model((*writeModel)(nil)).Where("1 = 1").Exec(ctx); dErr != nil {
			return dErr
		}
		if _, dErr := tx.NewDelete().Model((*checkpointModel)(nil)).Where("1 = 1").Exec(ctx); dErr != nil {
			return dErr
		}

		for threadID, stored := range state.Storage {
			n := int64(len(stored))
			for i, sc := range stored {
				ckptID := ""
				if v, decErr := s.codec.Decode(sc.Checkpoint); decErr == nil {
					ckptID, _ = checkpoint.PayloadID(v)
				}
				if ckptID == "" {
					ckptID = id.NewCheckpointID().String()
				}
				model := &checkpointModel{
					ThreadID:     threadID,
					CheckpointID: ckptID,
					ParentID:     sc.ParentID,
					Checkpoint:   string(sc.Checkpoint),
					Metadata:     string(sc.Metadata),
					// Stored lists are newest-first; the newest entry
					// gets the highest sequence.
					Seq: n - int64(i),
				}
				if _, iErr := tx.NewInsert().Model(model).Exec(ctx); iErr != nil {
					return iErr
				}
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
			for ledgerKey, le := range ledger {
				model := &writeModel{
					ThreadID:     threadID,
					CheckpointID: ckptID,
					LedgerKey:    ledgerKey,
					TaskID:       le.TaskID,
					Channel:      le.Channel,
					Value:        string(le.Value),
				}
				if _, iErr := tx.NewInsert().Model(model).Exec(ctx); iErr != nil {
					return iErr
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loom/sqlite: import: %w", err)
	}
	return nil
}

// Threads returns all thread ids with at least one checkpoint, sorted.
func (s *Store) Threads(ctx context.Context) ([]string, error) {
	var threads []string
	err := s.db.NewSelect().
		Model((*checkpointModel)(nil)).
		ColumnExpr("DISTINCT thread_id").
		OrderExpr("thread_id ASC").
		Scan(ctx, &threads)
	if err != nil {
		return nil, fmt.Errorf("loom/sqlite: threads: %w", err)
	}
	return threads, nil
}

// PruneThread trims the thread to its newest keep checkpoints and
// deletes the trimmed entries with their pending writes.
func (s *Store) PruneThread(ctx context.Context, threadID string, keep int) (int, error) {
	if threadID == "" {
		return 0, checkpoint.ErrThreadIDMissing
	}
	if keep < 1 {
		keep = 1
	}

	var pruned int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var all []checkpointModel
		sErr := tx.NewSelect().
			Model(&all).
			Column("thread_id", "checkpoint_id").
			Where("thread_id = ?", threadID).
			OrderExpr("seq DESC").
			Scan(ctx)
		if sErr != nil {
			return sErr
		}
		if len(all) <= keep {
			return nil
		}

		victims := all[keep:]
		ids := make([]string, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].CheckpointID)
		}
		if _, dErr := tx.NewDelete().
			Model((*writeModel)(nil)).
			Where("thread_id = ?", threadID).
			Where("checkpoint_id IN (?)", bun.In(ids)).
			Exec(ctx); dErr != nil {
			return dErr
		}
		if _, dErr := tx.NewDelete().
			Model((*checkpointModel)(nil)).
			Where("thread_id = ?", threadID).
			Where("checkpoint_id IN (?)", bun.In(ids)).
			Exec(ctx); dErr != nil {
			return dErr
		}
		pruned = len(ids)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("loom/sqlite: prune: %w", err)
	}
	return pruned, nil
}
