package checkpoint

import "errors"

var (
	// Caller errors: incomplete identifying information on an operation.
	ErrThreadIDMissing     = errors.New("loom: thread id missing")
	ErrCheckpointIDMissing = errors.New("loom: checkpoint id missing")
	ErrTaskIDMissing       = errors.New("loom: task id missing")

	// ErrStateInvalid is returned when a serialized state blob does not
	// parse as the versioned storage/writes structure.
	ErrStateInvalid = errors.New("loom: serialized state failed validation")
)

// Blob is an opaque codec-encoded value: the base64 text form produced
// by a Codec. The store moves blobs without interpreting them.
type Blob string

// Ref identifies one checkpoint within one thread.
type Ref struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id"`
}

// Write is a single channel write handed to PutWrites.
type Write struct {
	Channel string
	Value   any
}

// PendingWrite is a decoded ledger entry: a side-effect value a task
// produced before its containing checkpoint was committed, rehydrated
// alongside the checkpoint so the engine can resume the task.
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

// Tuple is the decoded view of one checkpoint: the snapshot payload,
// its metadata, every pending write recorded against it, and a
// reference to its parent checkpoint when one was declared.
type Tuple struct {
	Ref           Ref
	Checkpoint    any
	Metadata      map[string]any
	PendingWrites []PendingWrite
	Parent        *Ref
}

// PayloadID extracts the engine-assigned id from a decoded checkpoint
// payload, when the payload is an object carrying an "id" string.
// Graph engines stamp their checkpoints this way; payloads without one
// get a minted id at Put time.
func PayloadID(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m["id"].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
