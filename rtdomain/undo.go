package rtdomain

import (
	"errors"
	"fmt"
	"log/slog"
)

// undoStep reverses one pipeline-side effect of starting a domain.
type undoStep struct {
	what string
	fn   func() error
}

// undoStack collects the steps taken while starting a set of domains
// so a failure partway through leaves the pipeline as it was.
type undoStack []undoStep

func (u *undoStack) push(what string, fn func() error) {
	*u = append(*u, undoStep{what: what, fn: fn})
}

// rollback runs every step, newest first, and joins their errors.
// A failing step does not stop the ones below it.
func (u undoStack) rollback(logger *slog.Logger) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		step := u[i]
		if err := step.fn(); err != nil {
			logger.Error("rollback step failed", "step", step.what, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.what, err))
			continue
		}
		logger.Debug("rolled back", "step", step.what)
	}
	return errors.Join(errs...)
}
