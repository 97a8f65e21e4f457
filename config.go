package loom

import "github.com/loomhq/loom/state"

// Config holds configuration for the Orchestrator.
type Config struct {
	// Environment selects the checkpoint persistence mode. Production
	// re-derives a file-backed store from disk on every invocation;
	// Test caches one ephemeral store per Orchestrator.
	Environment state.Environment

	// ProjectPath roots the session directory. Empty means the
	// LOOM_PROJECT_ROOT override, then the user's home directory.
	ProjectPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Environment: state.Production,
	}
}
