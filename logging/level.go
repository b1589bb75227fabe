// Package logging provides structured logging for ipipe: a level
// spec with per-component overrides, a trace level below debug, and a
// slog handler filtering records by the "component" attribute.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a slog level extended with trace, the level the dispatch
// hot path logs at.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

var levelNames = []struct {
	level   Level
	name    string
	aliases []string
}{
	{LevelTrace, "trace", nil},
	{LevelDebug, "debug", nil},
	{LevelInfo, "info", nil},
	{LevelWarn, "warn", []string{"warning"}},
	{LevelError, "error", []string{"err"}},
}

// ParseLevel parses trace, debug, info, warn or error, ignoring case
// and surrounding space.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, n := range levelNames {
		if n.name == name {
			return n.level, nil
		}
		for _, alias := range n.aliases {
			if alias == name {
				return n.level, nil
			}
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// ToSlog converts l to a slog.Level.
func (l Level) ToSlog() slog.Level {
	return slog.Level(l)
}

func (l Level) String() string {
	for _, n := range levelNames {
		if n.level == l {
			return n.name
		}
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// replaceLevel renders LevelTrace as TRACE instead of slog's DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) != 0 || a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace.ToSlog() {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
