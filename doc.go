// Package loom provides durable checkpoint persistence and resume
// orchestration for long-running, agent-driven workflows. Each external
// tool invocation is stateless; Loom captures workflow progress between
// invocations so the next call resumes exactly where the previous one
// paused, across process restarts.
//
// Loom is designed as a library, not a service. Import it, pick a
// checkpoint backend, and hand the Orchestrator your workflow engine.
//
// # Quick Start
//
//	o, err := loom.New(engine,
//	    loom.WithStateManager(state.New(state.Config{ProjectPath: dir})),
//	)
//	resp, err := o.Invoke(ctx, loom.Request{Input: input})
//	// resp.ThreadID round-trips unmodified on the next call.
//
// # Architecture
//
// The checkpoint package defines the Saver contract: an append-only,
// per-thread history of opaque snapshots plus a ledger of pending task
// writes. Backends live under store/ (memory, redis, sqlite, postgres);
// the state package decides whether and when a store touches disk.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package loom
