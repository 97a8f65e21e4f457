// Package graph specifies the boundary to the external workflow graph
// engine. Loom never executes node logic; it compiles a checkpoint
// store into the engine, asks the engine whether a thread is paused,
// and reads the interrupt payload describing the caller's next action.
package graph

import (
	"context"

	"github.com/loomhq/loom/checkpoint"
)

// Config addresses one thread on the engine.
type Config struct {
	ThreadID string
}

// Interrupt is a pause signal raised by one task: execution stopped and
// awaits external input before continuing.
type Interrupt struct {
	Value any
}

// Task is one unit of execution the engine reports in a state snapshot.
type Task struct {
	ID         string
	Interrupts []Interrupt
}

// Snapshot is the engine's view of a thread: the currently dispatched
// tasks and the names of whatever work remains queued.
type Snapshot struct {
	Tasks []Task
	Next  []string
}

// PausedTask returns the first task awaiting external input, or nil.
func (s *Snapshot) PausedTask() *Task {
	if s == nil {
		return nil
	}
	for i := range s.Tasks {
		if len(s.Tasks[i].Interrupts) > 0 {
			return &s.Tasks[i]
		}
	}
	return nil
}

// HasNext reports whether the engine has more work queued.
func (s *Snapshot) HasNext() bool {
	return s != nil && len(s.Next) > 0
}

// Command re-enters a paused thread, binding Resume to the exact pause
// point the engine recorded.
type Command struct {
	Resume any
}

// InterruptKey is the invoke-result field carrying the interrupt
// payload when execution paused.
const InterruptKey = "__interrupt__"

// Engine binds a checkpoint store to a workflow definition.
type Engine interface {
	Compile(saver checkpoint.Saver) (Compiled, error)
}

// Compiled is a workflow definition bound to a store, addressable per
// thread.
type Compiled interface {
	// GetState reports the thread's dispatched tasks and queued work.
	GetState(ctx context.Context, cfg Config) (*Snapshot, error)

	// Invoke runs the workflow with the given input — either the
	// caller's initial input or a Command resuming a pause point — and
	// returns the engine's result map, which carries InterruptKey when
	// execution paused again.
	Invoke(ctx context.Context, input any, cfg Config) (map[string]any, error)
}

// NextAction describes what the external agent must do next: call a
// named tool with a payload, or follow inline guidance text.
type NextAction struct {
	Tool     string         `json:"tool,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Guidance string         `json:"guidance,omitempty"`
}

// ExtractNextAction reads the interrupt payload out of an invoke
// result. Reports false when the result carries none.
func ExtractNextAction(result map[string]any) (*NextAction, bool) {
	raw, ok := result[InterruptKey]
	if !ok || raw == nil {
		return nil, false
	}

	value := raw
	// Engines report interrupts as a list of {value: ...} records;
	// unwrap to the first payload.
	if list, isList := raw.([]any); isList {
		if len(list) == 0 {
			return nil, false
		}
		value = list[0]
	}
	if m, isMap := value.(map[string]any); isMap {
		if inner, hasValue := m["value"]; hasValue {
			value = inner
		}
	}

	switch v := value.(type) {
	case string:
		return &NextAction{Guidance: v}, true
	case map[string]any:
		action := &NextAction{}
		if tool, isStr := v["tool"].(string); isStr {
			action.Tool = tool
		}
		if payload, isMap := v["payload"].(map[string]any); isMap {
			action.Payload = payload
		}
		if guidance, isStr := v["guidance"].(string); isStr {
			action.Guidance = guidance
		}
		if action.Tool == "" && action.Guidance == "" {
			// An object without recognized fields is still a payload;
			// surface it rather than dropping the interrupt.
			action.Payload = v
		}
		return action, true
	default:
		return nil, false
	}
}
