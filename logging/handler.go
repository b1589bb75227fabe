package logging

import (
	"context"
	"log/slog"
)

// componentKey is the attribute naming the subsystem a record comes
// from, e.g. "dispatch" or "fault".
const componentKey = "component"

// filteringHandler drops records below the level Levels assigns to
// their component. The component comes from the handler's attributes
// (logger.With("component", ...)) or, when the record carries its own
// component attribute, from the record.
type filteringHandler struct {
	inner     slog.Handler
	levels    *Levels
	component string
}

// NewFilteringHandler wraps inner with component filtering.
func NewFilteringHandler(inner slog.Handler, levels *Levels) slog.Handler {
	return &filteringHandler{
		inner:  inner,
		levels: levels,
	}
}

// Enabled is exact for handlers bound to a component. Unbound handlers
// admit the most verbose level of the spec since a record may name a
// component of its own; Handle then filters exactly.
func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.levels.LevelFor(h.component).ToSlog()
	}
	return level >= h.levels.Min().ToSlog()
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentKey {
			component = a.Value.String()
			return false
		}
		return true
	})
	if r.Level < h.levels.LevelFor(component).ToSlog() {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == componentKey {
			component = a.Value.String()
		}
	}
	return &filteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		levels:    h.levels,
		component: component,
	}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		inner:     h.inner.WithGroup(name),
		levels:    h.levels,
		component: h.component,
	}
}
