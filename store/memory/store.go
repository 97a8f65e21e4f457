// Package memory implements checkpoint.Saver entirely in memory.
// It is the reference backend: the state manager uses it both as the
// test-isolation store and as the working set behind the file-backed
// production mode, exporting and importing its full state as one blob.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/loomhq/loom/checkpoint"
	"github.com/loomhq/loom/id"
)

// Ensure Store implements the Saver contract at compile time.
var _ checkpoint.Saver = (*Store)(nil)

// entry is one checkpoint in a thread's history, with the id held
// explicitly rather than recovered from position or payload.
type entry struct {
	id         string
	checkpoint checkpoint.Blob
	metadata   checkpoint.Blob
	parentID   string
}

// history is a thread's checkpoint list, newest first. The head is the
// thread's current state.
type history []entry

func (h history) head() (entry, bool) {
	if len(h) == 0 {
		return entry{}, false
	}
	return h[0], true
}

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

// Store is a fully in-memory implementation of checkpoint.Saver.
// Safe for concurrent access within one process; it provides no
// cross-process locking.
type Store struct {
	mu sync.RWMutex

	threads map[string]history
	writes  map[string]checkpoint.Ledger // key: "threadID:checkpointID"

	codec  checkpoint.Codec
	logger *slog.Logger
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		threads: make(map[string]history),
		writes:  make(map[string]checkpoint.Ledger),
		codec:   &checkpoint.JSONCodec{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Codec returns the store's payload codec.
func (s *Store) Codec() checkpoint.Codec { return s.codec }

// Put encodes the snapshot and metadata and prepends the entry to the
// thread's history, creating the thread on first write.
func (s *Store) Put(_ context.Context, threadID string, ckpt any, metadata map[string]any, parentCheckpointID string) (string, error) {
	if threadID == "" {
		return "", checkpoint.ErrThreadIDMissing
	}

	ckptID, ckpt := stampID(ckpt)

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

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{
		id:         ckptID,
		checkpoint: ckptBlob,
		metadata:   metaBlob,
		parentID:   parentCheckpointID,
	}
	s.threads[threadID] = append(history{e}, s.threads[threadID]...)

	return ckptID, nil
}

// stampID resolves the checkpoint id: the payload's own id when it
// carries one, otherwise a minted one written back into map payloads so
// the exported file and the ledger agree on it.
func stampID(ckpt any) (string, any) {
	if payloadID, ok := checkpoint.PayloadID(ckpt); ok {
		return payloadID, ckpt
	}

	minted := id.NewCheckpointID().String()
	if m, ok := ckpt.(map[string]any); ok {
		cp := make(map[string]any, len(m)+1)
		for k, v := range m {
			cp[k] = v
		}
		cp["id"] = minted
		return minted, cp
	}
	return minted, ckpt
}

// GetTuple returns the thread's head checkpoint, decoded, with all
// pending writes recorded against it. A thread with no checkpoints
// yields (nil, nil).
func (s *Store) GetTuple(_ context.Context, threadID string) (*checkpoint.Tuple, error) {
	if threadID == "" {
		return nil, checkpoint.ErrThreadIDMissing
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	head, ok := s.threads[threadID].head()
	if !ok {
		return nil, nil
	}
	return s.tuple(threadID, head)
}

// tuple decodes one entry. Callers hold at least the read lock.
func (s *Store) tuple(threadID string, e entry) (*checkpoint.Tuple, error) {
	ckpt, err := s.codec.Decode(e.checkpoint)
	if err != nil {
		return nil, err
	}

	md, err := s.codec.Decode(e.metadata)
	if err != nil {
		return nil, err
	}
	metadata, _ := md.(map[string]any)

	pending, err := s.pendingWrites(threadID, e.id)
	if err != nil {
		return nil, err
	}

	t := &checkpoint.Tuple{
		Ref:           checkpoint.Ref{ThreadID: threadID, CheckpointID: e.id},
		Checkpoint:    ckpt,
		Metadata:      metadata,
		PendingWrites: pending,
	}
	if e.parentID != "" {
		t.Parent = &checkpoint.Ref{ThreadID: threadID, CheckpointID: e.parentID}
	}
	return t, nil
}

// pendingWrites decodes the ledger for one checkpoint, ordered by
// ledger key for deterministic output.
func (s *Store) pendingWrites(threadID, checkpointID string) ([]checkpoint.PendingWrite, error) {
	ledger, ok := s.writes[checkpoint.WritesKey(threadID, checkpointID)]
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(ledger))
	for k := range ledger {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pending := make([]checkpoint.PendingWrite, 0, len(keys))
	for _, k := range keys {
		le := ledger[k]
		v, err := s.codec.Decode(le.Value)
		if err != nil {
			return nil, err
		}
		pending = append(pending, checkpoint.PendingWrite{
			TaskID:  le.TaskID,
			Channel: le.Channel,
			Value:   v,
		})
	}
	return pending, nil
}

// PutWrites records pending writes against a checkpoint. Writing the
// same (task, recognized channel) pair twice overwrites the earlier
// entry rather than duplicating it.
func (s *Store) PutWrites(_ context.Context, threadID, checkpointID, taskID string, writes []checkpoint.Write) error {
	if threadID == "" {
		return checkpoint.ErrThreadIDMissing
	}
	if checkpointID == "" {
		return checkpoint.ErrCheckpointIDMissing
	}
	if taskID == "" {
		return checkpoint.ErrTaskIDMissing
	}

	encoded := make([]checkpoint.LedgerEntry, len(writes))
	for i, w := range writes {
		blob, err := s.codec.Encode(w.Value)
		if err != nil {
			return err
		}
		encoded[i] = checkpoint.LedgerEntry{TaskID: taskID, Channel: w.Channel, Value: blob}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpoint.WritesKey(threadID, checkpointID)
	ledger, ok := s.writes[key]
	if !ok {
		ledger = checkpoint.Ledger{}
		s.writes[key] = ledger
	}
	for i, le := range encoded {
		ledger[checkpoint.LedgerKey(taskID, le.Channel, i)] = le
	}
	return nil
}

// List returns the thread's checkpoints newest-first, filtered by
// metadata equality, stopping once limit results have been produced.
// Each call re-scans from the head.
func (s *Store) List(_ context.Context, threadID string, opts checkpoint.ListOpts) ([]*checkpoint.Tuple, error) {
	if threadID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*checkpoint.Tuple
	for _, e := range s.threads[threadID] {
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
		t, err := s.tuple(threadID, e)
		if err != nil {
			return nil, err
		}
		if len(opts.Filter) > 0 && !checkpoint.MatchesFilter(t.Metadata, opts.Filter, s.codec) {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// DeleteThread removes all checkpoints and ledger entries for the
// thread. No-op when the thread does not exist.
func (s *Store) DeleteThread(_ context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, threadID)
	prefix := threadID + ":"
	for k := range s.writes {
		if strings.HasPrefix(k, prefix) {
			delete(s.writes, k)
		}
	}
	return nil
}

// ExportState serializes the entire store as one versioned blob.
func (s *Store) ExportState(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := checkpoint.NewState()
	for threadID, h := range s.threads {
		stored := make([]checkpoint.StoredCheckpoint, len(h))
		for i, e := range h {
			stored[i] = checkpoint.StoredCheckpoint{
				Checkpoint: e.checkpoint,
				Metadata:   e.metadata,
				ParentID:   e.parentID,
			}
		}
		state.Storage[threadID] = stored
	}
	for key, ledger := range s.writes {
		encoded, err := checkpoint.EncodeLedger(ledger)
		if err != nil {
			return nil, err
		}
		state.Writes[key] = encoded
	}
	return state.Encode()
}

// ImportState replaces the store's entire contents with the blob's.
// Checkpoint ids are recovered from each payload; a payload without one
// gets a fresh id, which orphans any ledger entries that referenced the
// old one.
func (s *Store) ImportState(_ context.Context, data []byte) error {
	state, err := checkpoint.ParseState(data)
	if err != nil {
		return err
	}

	threads := make(map[string]history, len(state.Storage))
	for threadID, stored := range state.Storage {
		h := make(history, len(stored))
		for i, sc := range stored {
			ckptID := ""
			if v, decErr := s.codec.Decode(sc.Checkpoint); decErr == nil {
				ckptID, _ = checkpoint.PayloadID(v)
			}
			if ckptID == "" {
				ckptID = id.NewCheckpointID().String()
			}
			h[i] = entry{
				id:         ckptID,
				checkpoint: sc.Checkpoint,
				metadata:   sc.Metadata,
				parentID:   sc.ParentID,
			}
		}
		threads[threadID] = h
	}

	writes := make(map[string]checkpoint.Ledger, len(state.Writes))
	for key, encoded := range state.Writes {
		ledger, parseErr := checkpoint.ParseLedger(encoded)
		if parseErr != nil {
			return parseErr
		}
		writes[key] = ledger
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = threads
	s.writes = writes
	return nil
}

// Threads returns all thread ids with at least one checkpoint.
func (s *Store) Threads(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.threads))
	for threadID := range s.threads {
		ids = append(ids, threadID)
	}
	sort.Strings(ids)
	return ids, nil
}

// PruneThread trims the thread's history to its newest keep entries and
// drops the ledgers of everything trimmed. Returns the number of
// checkpoints removed.
func (s *Store) PruneThread(_ context.Context, threadID string, keep int) (int, error) {
	if threadID == "" {
		return 0, checkpoint.ErrThreadIDMissing
	}
	if keep < 1 {
		keep = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.threads[threadID]
	if len(h) <= keep {
		return 0, nil
	}

	trimmed := h[keep:]
	s.threads[threadID] = append(history{}, h[:keep]...)
	for _, e := range trimmed {
		delete(s.writes, checkpoint.WritesKey(threadID, e.id))
	}
	return len(trimmed), nil
}
