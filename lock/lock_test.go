package lock_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe/lock"
)

func TestRunRecordsHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	err := lock.Run(context.Background(), path, func(_ context.Context, s lock.Scope) error {
		assert.Equal(t, path, s.Path())
		assert.Positive(t, s.FD())
		pid, ok := lock.Holder(path)
		assert.True(t, ok)
		assert.Equal(t, os.Getpid(), pid)
		return nil
	})
	require.NoError(t, err)

	_, ok := lock.Holder(path)
	assert.False(t, ok, "the pid is cleared on release")
}

func TestTryRunWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	ctx := context.Background()

	err := lock.Run(ctx, path, func(ctx context.Context, _ lock.Scope) error {
		err := lock.TryRun(ctx, path, func(context.Context, lock.Scope) error {
			t.Error("second holder must not run")
			return nil
		})
		require.ErrorIs(t, err, lock.ErrHeld)
		assert.Contains(t, err.Error(), "pid")
		return nil
	})
	require.NoError(t, err)

	ran := false
	require.NoError(t, lock.TryRun(ctx, path, func(context.Context, lock.Scope) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestRunWaitsUntilContextDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	err := lock.Run(context.Background(), path, func(context.Context, lock.Scope) error {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		return lock.Run(ctx, path, func(context.Context, lock.Scope) error { return nil })
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunPropagatesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	want := assert.AnError
	err := lock.Run(context.Background(), path, func(context.Context, lock.Scope) error { return want })
	require.ErrorIs(t, err, want)
}

func TestRunBadPath(t *testing.T) {
	err := lock.Run(context.Background(), filepath.Join(t.TempDir(), "missing", ".lock"), func(context.Context, lock.Scope) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open lock file")
}
