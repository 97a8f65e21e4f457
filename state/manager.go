// Package state owns the decision of whether and when checkpoint data
// touches a backing file. In test mode it hands out fresh ephemeral
// stores and never performs disk I/O; in production it rehydrates a
// store from the project state file on creation and rewrites the whole
// file on save.
package state

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/loomhq/loom/checkpoint"
	"github.com/loomhq/loom/fsys"
	"github.com/loomhq/loom/sessiondir"
	"github.com/loomhq/loom/store/memory"
)

// Environment selects the persistence mode.
type Environment string

const (
	// Production persists the store to the project state file.
	Production Environment = "production"
	// Test hands out ephemeral stores and never touches disk.
	Test Environment = "test"
)

// StateFileName is the single file all sessions of a project share.
const StateFileName = "workflow-state.json"

// ErrEnvironmentMismatch is returned when a test-mode manager is asked
// to persist a store it did not create, a sanity check against wiring a
// production backend into an isolated test.
var ErrEnvironmentMismatch = errors.New("loom: checkpointer does not match configured environment")

// Config holds configuration for a Manager.
type Config struct {
	// Environment defaults to Production.
	Environment Environment

	// ProjectPath roots the session directory. Empty defers to the
	// LOOM_PROJECT_ROOT override, then the home directory.
	ProjectPath string

	// FS is the injectable filesystem. Nil means the real one.
	FS fsys.FS
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCodec sets the payload codec for the stores the manager creates.
func WithCodec(c checkpoint.Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// Manager constructs checkpoint stores for the configured environment
// and commits their state back to disk on demand. It owns the file
// path; the stores themselves have no knowledge of files.
type Manager struct {
	env      Environment
	resolver *sessiondir.Resolver
	fs       fsys.FS
	codec    checkpoint.Codec
	logger   *slog.Logger
}

// New creates a Manager.
func New(cfg Config, opts ...Option) *Manager {
	if cfg.Environment == "" {
		cfg.Environment = Production
	}
	if cfg.FS == nil {
		cfg.FS = fsys.OS{}
	}

	m := &Manager{
		env:      cfg.Environment,
		resolver: sessiondir.NewResolver(cfg.ProjectPath, cfg.FS),
		fs:       cfg.FS,
		codec:    &checkpoint.JSONCodec{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Environment returns the configured environment.
func (m *Manager) Environment() Environment { return m.env }

// StatePath returns the state file path without creating anything.
func (m *Manager) StatePath() string {
	return filepath.Join(m.resolver.Dir(), StateFileName)
}

// CreateCheckpointer returns a checkpoint store for this environment.
//
// Test mode returns a fresh ephemeral store with no disk I/O.
// Production mode rehydrates the store from the state file when one is
// present; an absent or unreadable file yields an empty store, so a
// corrupted file never blocks progress (it does silently lose history).
// Filesystem failures other than absence propagate unmodified.
func (m *Manager) CreateCheckpointer(ctx context.Context) (checkpoint.Saver, error) {
	store := memory.New(memory.WithCodec(m.codec), memory.WithLogger(m.logger))
	if m.env == Test {
		return store, nil
	}

	path := m.StatePath()
	data, err := m.fs.ReadFile(path)
	switch {
	case fsys.NotExist(err):
		m.logger.Debug("no prior checkpoint state", slog.String("path", path))
		return store, nil
	case err != nil:
		return nil, err
	}

	if importErr := store.ImportState(ctx, data); importErr != nil {
		// Prior state present but unreadable: start empty rather than
		// wedge. Distinct from the no-prior-state case above.
		m.logger.Warn("prior checkpoint state unreadable, starting empty",
			slog.String("path", path),
			slog.String("error", importErr.Error()),
		)
		return memory.New(memory.WithCodec(m.codec), memory.WithLogger(m.logger)), nil
	}
	return store, nil
}

// SaveCheckpointerState commits the store's state to the backing file.
//
// Test mode is a deliberate no-op, but persisting a store that is not
// the ephemeral type fails with ErrEnvironmentMismatch. In production
// the export must round-trip as valid serialized state before anything
// is written; a malformed export is a hard failure, since writing it
// would corrupt durability for every future invocation.
func (m *Manager) SaveCheckpointerState(ctx context.Context, store checkpoint.Saver) error {
	if m.env == Test {
		if _, ok := store.(*memory.Store); !ok {
			return ErrEnvironmentMismatch
		}
		return nil
	}

	data, err := store.ExportState(ctx)
	if err != nil {
		return err
	}
	if _, err := checkpoint.ParseState(data); err != nil {
		return err
	}

	if _, err := m.resolver.Ensure(); err != nil {
		return err
	}
	return m.fs.WriteFile(m.StatePath(), data, 0o644)
}

// StateExists reports whether the backing file is present.
func (m *Manager) StateExists() bool {
	_, err := m.fs.Stat(m.StatePath())
	return err == nil
}

// ClearState deletes the backing file. No-op when already absent.
func (m *Manager) ClearState() error {
	err := m.fs.Remove(m.StatePath())
	if fsys.NotExist(err) {
		return nil
	}
	return err
}
