// Package lock keeps a single ipipe daemon per runtime directory using
// flock(2) on the runtime lock file.
//
// The lock is held for the lifetime of the daemon. Possession of a
// Scope is proof the caller holds it; a Scope can only be obtained
// from Run.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned by TryRun when another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// Scope represents the region in which the daemon lock is held.
type Scope interface {
	// Path is the lock file path.
	Path() string
	// FD returns the raw lock file descriptor (for logging/diagnostics).
	FD() int

	scopeMarker()
}

type scope struct {
	f *os.File
}

func (*scope) scopeMarker() {}

func (s *scope) Path() string { return s.f.Name() }

func (s *scope) FD() int { return int(s.f.Fd()) }

// Run acquires the lock at path, records the caller's pid in it,
// executes fn, then releases. It retries LOCK_EX|LOCK_NB with
// exponential backoff until ctx is done.
func Run(ctx context.Context, path string, fn func(context.Context, Scope) error) error {
	f, err := acquire(ctx, path, true)
	if err != nil {
		return err
	}
	defer release(f)
	return fn(ctx, &scope{f: f})
}

// TryRun is Run without waiting: it fails with ErrHeld when the lock
// is taken.
func TryRun(ctx context.Context, path string, fn func(context.Context, Scope) error) error {
	f, err := acquire(ctx, path, false)
	if err != nil {
		return err
	}
	defer release(f)
	return fn(ctx, &scope{f: f})
}

func acquire(ctx context.Context, path string, wait bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		if !wait {
			f.Close()
			if pid, ok := Holder(path); ok {
				return nil, fmt.Errorf("%s: %w (pid %d)", path, ErrHeld, pid)
			}
			return nil, fmt.Errorf("%s: %w", path, ErrHeld)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return f, nil
}

func release(f *os.File) {
	_ = f.Truncate(0)
	f.Close()
}

// Holder returns the pid recorded in the lock file at path.
func Holder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
