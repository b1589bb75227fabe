package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRuntimeDir is the base of the daemon's runtime state.
const DefaultRuntimeDir = "/run/ipipe"

const (
	socketName = "ipipe.sock"
	dbName     = "traces.db"
	lockName   = ".lock"
)

// RuntimeDirs is the on-disk layout of a daemon:
//
//	{base}/           runtime root, holds the lock file
//	{base}/db/        trace database, private to the daemon
//	{base}-sock/      control socket, group accessible
//
// Build one with NewRuntimeDirs.
type RuntimeDirs struct {
	base string
	db   string
	sock string
	lock string
}

// DefaultRuntimeDirs returns the layout rooted at DefaultRuntimeDir.
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs(DefaultRuntimeDir)
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs returns the layout rooted at base, which must be an
// absolute path.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	switch {
	case base == "":
		return RuntimeDirs{}, errors.New("base path cannot be empty")
	case !filepath.IsAbs(base):
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)
	return RuntimeDirs{
		base: base,
		db:   filepath.Join(base, "db"),
		sock: base + "-sock",
		lock: filepath.Join(base, lockName),
	}, nil
}

func (d RuntimeDirs) Base() string { return d.base }

func (d RuntimeDirs) DB() string { return d.db }

func (d RuntimeDirs) Sock() string { return d.sock }

// Lock returns the single instance lock file.
func (d RuntimeDirs) Lock() string { return d.lock }

// SocketPath returns the control socket the daemon listens on.
func (d RuntimeDirs) SocketPath() string {
	return filepath.Join(d.sock, socketName)
}

// DBPath returns the trace database file.
func (d RuntimeDirs) DBPath() string {
	return filepath.Join(d.db, dbName)
}

// EnsureDirectories creates the layout, each directory with its own
// mode (before umask).
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []struct {
		path string
		mode os.FileMode
	}{
		{d.base, 0o755},
		{d.db, 0o700},
		{d.sock, 0o750},
	} {
		if err := os.MkdirAll(dir.path, dir.mode); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir.path, err)
		}
	}
	return nil
}
