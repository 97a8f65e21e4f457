package loom

import "errors"

var (
	// ErrNoEngine is returned by New when no workflow engine is supplied.
	ErrNoEngine = errors.New("loom: no workflow engine configured")

	// ErrEngineProtocol marks a fatal contract violation: the workflow
	// engine reported outstanding work but produced no interrupt payload,
	// so the orchestrator cannot tell the caller what to do next.
	ErrEngineProtocol = errors.New("loom: engine reported pending work without an interrupt")
)
