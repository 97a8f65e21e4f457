package checkpoint

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StateVersion is the current version tag of the serialized state form.
const StateVersion = 1

// StoredCheckpoint is one history entry in the serialized form: the
// encoded snapshot, its encoded metadata, and the optional parent link.
type StoredCheckpoint struct {
	Checkpoint Blob   `json:"checkpoint"`
	Metadata   Blob   `json:"metadata"`
	ParentID   string `json:"parentId,omitempty"`
}

// State is the full-store wire form: a version tag, each thread's
// newest-first checkpoint list, and each checkpoint's encoded
// pending-write ledger keyed by "thread:checkpoint". It is exported
// and imported atomically as a single blob, never streamed.
type State struct {
	Version int                           `json:"version"`
	Storage map[string][]StoredCheckpoint `json:"storage"`
	Writes  map[string]string             `json:"writes"`
}

// NewState returns an empty State at the current version.
func NewState() *State {
	return &State{
		Version: StateVersion,
		Storage: map[string][]StoredCheckpoint{},
		Writes:  map[string]string{},
	}
}

// ParseState decodes a serialized state blob. A missing version field
// defaults to the current version, so pre-versioning files still read.
// Returns ErrStateInvalid when the blob is not the expected structure.
func ParseState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	s.normalize()
	return &s, nil
}

// Encode serializes the state to its canonical JSON blob.
func (s *State) Encode() ([]byte, error) {
	s.normalize()
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	return data, nil
}

func (s *State) normalize() {
	if s.Version == 0 {
		s.Version = StateVersion
	}
	if s.Storage == nil {
		s.Storage = map[string][]StoredCheckpoint{}
	}
	if s.Writes == nil {
		s.Writes = map[string]string{}
	}
}

// WritesKey builds the composite ledger key for one checkpoint.
func WritesKey(threadID, checkpointID string) string {
	return threadID + ":" + checkpointID
}

// SplitWritesKey splits a composite ledger key back into thread and
// checkpoint ids. The thread id is everything before the first colon;
// thread ids never contain one.
func SplitWritesKey(key string) (threadID, checkpointID string, ok bool) {
	i := strings.Index(key, ":")
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// LedgerEntry is one pending write in encoded form. On the wire it is
// the triple [task_id, channel, value].
type LedgerEntry struct {
	TaskID  string
	Channel string
	Value   Blob
}

// MarshalJSON emits the [task, channel, value] triple.
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.TaskID, e.Channel, string(e.Value)})
}

// UnmarshalJSON reads the [task, channel, value] triple.
func (e *LedgerEntry) UnmarshalJSON(data []byte) error {
	var t [3]string
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("%w: ledger entry: %v", ErrStateInvalid, err)
	}
	e.TaskID, e.Channel, e.Value = t[0], t[1], Blob(t[2])
	return nil
}

// Ledger is one checkpoint's pending-write map, keyed by LedgerKey.
type Ledger map[string]LedgerEntry

// EncodeLedger serializes a ledger to the JSON string stored in
// State.Writes. The double encoding (JSON string inside JSON) is part
// of the wire contract.
func EncodeLedger(l Ledger) (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("%w: ledger: %v", ErrStateInvalid, err)
	}
	return string(data), nil
}

// ParseLedger decodes a State.Writes value back into a ledger.
func ParseLedger(s string) (Ledger, error) {
	var l Ledger
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, fmt.Errorf("%w: ledger: %v", ErrStateInvalid, err)
	}
	if l == nil {
		l = Ledger{}
	}
	return l, nil
}
