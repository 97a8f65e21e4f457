// Package fsys defines the narrow filesystem surface the session
// directory resolver and state manager depend on, so tests can
// substitute an in-memory fake and assert on reads and writes without
// touching disk.
package fsys

import (
	"errors"
	"io/fs"
	"os"
)

// FS is the filesystem contract for durable state artifacts.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
}

// OS is the real filesystem.
type OS struct{}

var _ FS = OS{}

func (OS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (OS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (OS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (OS) Remove(name string) error { return os.Remove(name) }

// NotExist reports whether err means the file or directory is absent.
func NotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
