package sqlitestore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/loomhq/loom/checkpoint"
)

type checkpointModel struct {
	bun.BaseModel `bun:"table:loom_checkpoints"`

	ThreadID     string    `bun:"thread_id,pk"`
	CheckpointID string    `bun:"checkpoint_id,pk"`
	ParentID     string    `bun:"parent_id,notnull,default:''"`
	Checkpoint   string    `bun:"checkpoint,notnull"`
	Metadata     string    `bun:"metadata,notnull"`
	Seq          int64     `bun:"seq,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type writeModel struct {
	bun.BaseModel `bun:"table:loom_writes"`

	ThreadID     string    `bun:"thread_id,pk"`
	CheckpointID string    `bun:"checkpoint_id,pk"`
	LedgerKey    string    `bun:"ledger_key,pk"`
	TaskID       string    `bun:"task_id,notnull"`
	Channel      string    `bun:"channel,notnull"`
	Value        string    `bun:"value,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (m *writeModel) ledgerEntry() checkpoint.LedgerEntry {
	return checkpoint.LedgerEntry{
		TaskID:  m.TaskID,
		Channel: m.Channel,
		Value:   checkpoint.Blob(m.Value),
	}
}
