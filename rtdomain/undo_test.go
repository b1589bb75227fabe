package rtdomain

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRollbackRunsNewestFirst(t *testing.T) {
	var order []string
	var u undoStack
	for _, name := range []string{"register", "virtualize 5", "virtualize 6"} {
		u.push(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, u.rollback(discardLogger()))
	assert.Equal(t, []string{"virtualize 6", "virtualize 5", "register"}, order)
}

func TestRollbackContinuesPastFailures(t *testing.T) {
	errBusy := errors.New("busy")
	var ran int
	var u undoStack
	u.push("unregister rt", func() error { ran++; return errBusy })
	u.push("unvirtualize IRQ 5 of rt", func() error { ran++; return nil })
	u.push("unvirtualize IRQ 6 of rt", func() error { ran++; return errBusy })

	err := u.rollback(discardLogger())
	require.Error(t, err)
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, errBusy)
	assert.Contains(t, err.Error(), "unregister rt: busy")
	assert.Contains(t, err.Error(), "unvirtualize IRQ 6 of rt: busy")
	assert.NotContains(t, err.Error(), "IRQ 5")
}

func TestRollbackEmpty(t *testing.T) {
	var u undoStack
	assert.NoError(t, u.rollback(discardLogger()))
}
