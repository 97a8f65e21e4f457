package loom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomhq/loom/checkpoint"
	"github.com/loomhq/loom/graph"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/state"
)

// Request is one external invocation. An absent or empty ThreadID
// means "start a new session"; otherwise the id must be round-tripped
// unmodified from the previous response.
type Request struct {
	ThreadID string
	Input    map[string]any
}

// Response is the outcome of one invocation. When Done is false the
// workflow paused again and NextAction tells the caller what to do
// before invoking with the same ThreadID.
type Response struct {
	ThreadID   string
	Done       bool
	NextAction *graph.NextAction
	Message    string
}

// Orchestrator drives the resume/interrupt protocol: for each external
// invocation it resolves the session, rehydrates checkpoint state,
// resumes or starts the workflow, extracts the next action from the
// engine's interrupt, and persists progress before returning.
//
// Invocations against the same thread id must not overlap; the
// underlying store performs a full read-modify-write with no locking.
type Orchestrator struct {
	engine  graph.Engine
	config  Config
	manager *state.Manager
	logger  *slog.Logger

	// mu guards cached: the one ephemeral store shared by every
	// invocation of a test-mode orchestrator, so repeated calls within
	// a test see continuity without disk.
	mu     sync.Mutex
	cached checkpoint.Saver
}

// New creates an Orchestrator bound to a workflow engine.
func New(engine graph.Engine, opts ...Option) (*Orchestrator, error) {
	if engine == nil {
		return nil, ErrNoEngine
	}

	o := &Orchestrator{
		engine: engine,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.manager == nil {
		o.manager = state.New(
			state.Config{Environment: o.config.Environment, ProjectPath: o.config.ProjectPath},
			state.WithLogger(o.logger),
		)
	}
	return o, nil
}

// Manager returns the orchestrator's state manager.
func (o *Orchestrator) Manager() *state.Manager { return o.manager }

// Invoke runs one step of the protocol. It either returns the next
// action the caller must take (Done false, same ThreadID) or a terminal
// completion (Done true). Progress is persisted before returning, so
// the next invocation — possibly in a different process — resumes from
// this step.
func (o *Orchestrator) Invoke(ctx context.Context, req Request) (*Response, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = id.NewThreadID().String()
		o.logger.Info("minted new thread", slog.String("thread_id", threadID))
	}

	saver, err := o.checkpointer(ctx)
	if err != nil {
		return nil, fmt.Errorf("create checkpointer: %w", err)
	}

	compiled, err := o.engine.Compile(saver)
	if err != nil {
		return nil, fmt.Errorf("compile workflow: %w", err)
	}
	cfg := graph.Config{ThreadID: threadID}

	before, err := compiled.GetState(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("query engine state: %w", err)
	}

	var result map[string]any
	if paused := before.PausedTask(); paused != nil {
		o.logger.Info("resuming paused workflow",
			slog.String("thread_id", threadID),
			slog.String("task_id", paused.ID),
		)
		result, err = compiled.Invoke(ctx, graph.Command{Resume: req.Input}, cfg)
	} else {
		o.logger.Info("starting workflow", slog.String("thread_id", threadID))
		result, err = compiled.Invoke(ctx, req.Input, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("invoke workflow: %w", err)
	}

	after, err := compiled.GetState(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("query engine state: %w", err)
	}

	resp := &Response{ThreadID: threadID}
	if after.HasNext() {
		action, ok := graph.ExtractNextAction(result)
		if !ok {
			return nil, fmt.Errorf("%w (thread %s)", ErrEngineProtocol, threadID)
		}
		resp.NextAction = action
	} else {
		resp.Done = true
		resp.Message = "workflow complete"
	}

	if err := o.manager.SaveCheckpointerState(ctx, saver); err != nil {
		return nil, fmt.Errorf("persist checkpoint state: %w", err)
	}

	return resp, nil
}

// checkpointer acquires the store for this invocation. Test mode
// caches one ephemeral store for the orchestrator's lifetime so
// repeated calls see continuity; production re-derives fresh from disk
// each time, since persistence already carries the continuity.
func (o *Orchestrator) checkpointer(ctx context.Context) (checkpoint.Saver, error) {
	if o.manager.Environment() != state.Test {
		return o.manager.CreateCheckpointer(ctx)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached == nil {
		saver, err := o.manager.CreateCheckpointer(ctx)
		if err != nil {
			return nil, err
		}
		o.cached = saver
	}
	return o.cached, nil
}
