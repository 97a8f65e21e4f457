package checkpoint

import (
	"context"
	"reflect"
	"strconv"
)

// ListOpts controls filtering and truncation for List queries.
type ListOpts struct {
	// Filter requires exact equality on every supplied metadata key.
	// Applied before Limit counts a result.
	Filter map[string]any
	// Limit is the maximum number of tuples to return. Zero means no limit.
	Limit int
}

// Saver is the persistence contract for thread checkpoints.
//
// Insertion order doubles as recency order: Put prepends, and the most
// recent Put is always the head a GetTuple returns. Implementations
// assume a single active writer per thread; they provide no cross-
// process locking.
type Saver interface {
	// Put encodes the checkpoint and metadata payloads and prepends the
	// entry to the thread's history, creating the thread if needed.
	// Returns the checkpoint id (the payload's own id when it carries
	// one, otherwise minted). Fails with ErrThreadIDMissing on an empty
	// thread id.
	Put(ctx context.Context, threadID string, checkpoint any, metadata map[string]any, parentCheckpointID string) (string, error)

	// GetTuple returns the head checkpoint for the thread, decoded,
	// with all pending writes recorded against it. A thread with no
	// checkpoints yields (nil, nil), not an error.
	GetTuple(ctx context.Context, threadID string) (*Tuple, error)

	// PutWrites records pending writes against an existing checkpoint.
	// A task rewriting a recognized channel overwrites its previous
	// entry; other writes key by ordinal position.
	PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []Write) error

	// List returns checkpoints newest-first, after filtering, at most
	// opts.Limit. Unknown or empty thread ids produce zero results.
	List(ctx context.Context, threadID string, opts ListOpts) ([]*Tuple, error)

	// DeleteThread removes all checkpoints and ledger entries for the
	// thread. No-op if the thread does not exist.
	DeleteThread(ctx context.Context, threadID string) error

	// ExportState serializes the entire store into one versioned blob.
	ExportState(ctx context.Context) ([]byte, error)

	// ImportState replaces the store's entire contents with the blob's.
	// A blob without a version field reads as the current version.
	ImportState(ctx context.Context, data []byte) error
}

// writeIndex pins recognized channel names to fixed negative slots so a
// retried task overwrites its earlier write for that channel instead of
// appending a duplicate.
var writeIndex = map[string]int{
	"__error__":     -1,
	"__schedule__":  -2,
	"__interrupt__": -3,
	"__resume__":    -4,
}

// LedgerKey builds the ledger map key for one write: the task id plus
// either the channel's well-known index or the write's ordinal position.
func LedgerKey(taskID, channel string, pos int) string {
	if idx, ok := writeIndex[channel]; ok {
		pos = idx
	}
	return taskID + ":" + strconv.Itoa(pos)
}

// MatchesFilter reports whether metadata satisfies an exact-match
// filter on every supplied key. Filter values are normalized through
// the codec so that values which differ only in decoded representation
// (e.g. int vs float64 after a JSON round-trip) still compare equal.
func MatchesFilter(metadata, filter map[string]any, codec Codec) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		if norm, err := normalize(want, codec); err == nil {
			want = norm
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func normalize(v any, codec Codec) (any, error) {
	b, err := codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return codec.Decode(b)
}
