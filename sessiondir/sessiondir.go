// Package sessiondir resolves the hidden per-project directory that
// holds every durable artifact of this subsystem (the state file, any
// logs collaborators append). All path computation goes through the
// Resolver so the file location is consistent across components.
package sessiondir

import (
	"os"
	"path/filepath"

	"github.com/loomhq/loom/fsys"
)

// DirName is the hidden directory created under the project root.
const DirName = ".loom"

// EnvProjectRoot overrides the project root for environments where the
// working directory is not the intended root.
const EnvProjectRoot = "LOOM_PROJECT_ROOT"

// Resolver computes and creates the session directory. Precedence:
// explicit project path, then the EnvProjectRoot override, then the
// user's home directory.
type Resolver struct {
	projectPath string
	fs          fsys.FS
}

// NewResolver creates a Resolver. An empty projectPath defers to the
// environment override and home directory; a nil filesystem uses the OS.
func NewResolver(projectPath string, filesystem fsys.FS) *Resolver {
	if filesystem == nil {
		filesystem = fsys.OS{}
	}
	return &Resolver{projectPath: projectPath, fs: filesystem}
}

// Root returns the directory the session directory is rooted at.
func (r *Resolver) Root() string {
	if r.projectPath != "" {
		return r.projectPath
	}
	if env := os.Getenv(EnvProjectRoot); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Dir returns the session directory path without creating it.
func (r *Resolver) Dir() string {
	return filepath.Join(r.Root(), DirName)
}

// Ensure creates the session directory if absent and returns its path.
// Idempotent; filesystem errors propagate unmodified.
func (r *Resolver) Ensure() (string, error) {
	dir := r.Dir()
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// PathFor ensures the session directory exists and returns the path of
// the named file inside it.
func (r *Resolver) PathFor(filename string) (string, error) {
	dir, err := r.Ensure()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// Exists reports whether the session directory is already present.
func (r *Resolver) Exists() bool {
	info, err := r.fs.Stat(r.Dir())
	return err == nil && info.IsDir()
}
