package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
)

// Spec represents a logging specification with a base level and optional
// per-component overrides.
//
// Format: "<base-level>[,<component>=<level>]..."
//
// Examples:
//   - "info" - base level info
//   - "warn,dispatch=debug" - base warn, dispatch at debug
//   - "info,fault=debug,store=trace" - multiple overrides
type Spec struct {
	// BaseLevel is the default level for all components.
	BaseLevel Level
	// Components maps component names to their specific levels.
	Components map[string]Level
}

// ParseSpec parses a log specification string.
// An empty string defaults to info level with no component overrides.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if idx := strings.Index(part, "="); idx != -1 {
			component := strings.TrimSpace(part[:idx])
			levelStr := strings.TrimSpace(part[idx+1:])

			if component == "" {
				return spec, fmt.Errorf("empty component name in %q", part)
			}

			level, err := ParseLevel(levelStr)
			if err != nil {
				return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
			}
			spec.Components[component] = level
			continue
		}

		// A base level is only valid as the first element.
		if i != 0 {
			return spec, fmt.Errorf("base level %q must be first in spec", part)
		}
		level, err := ParseLevel(part)
		if err != nil {
			return spec, err
		}
		spec.BaseLevel = level
	}

	return spec, nil
}

// LevelFor returns the effective level for a component.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// Min returns the most verbose level any component may log at.
func (s *Spec) Min() Level {
	lowest := s.BaseLevel
	for _, level := range s.Components {
		lowest = min(lowest, level)
	}
	return lowest
}

// String returns the spec as a parseable string, components sorted.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, component := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, component+"="+s.Components[component].String())
	}
	return strings.Join(parts, ",")
}

// Levels holds the spec a logger filters with. Every logger derived
// from one New call shares it.
type Levels struct {
	spec atomic.Pointer[Spec]
}

// NewLevels returns Levels starting at spec.
func NewLevels(spec Spec) *Levels {
	l := &Levels{}
	l.Set(spec)
	return l
}

// Set replaces the active spec.
func (l *Levels) Set(spec Spec) {
	l.spec.Store(&spec)
}

// SetString parses s and replaces the active spec. The spec is left
// unchanged when s does not parse.
func (l *Levels) SetString(s string) error {
	spec, err := ParseSpec(s)
	if err != nil {
		return fmt.Errorf("invalid log spec: %w", err)
	}
	l.Set(spec)
	return nil
}

// Spec returns the active spec.
func (l *Levels) Spec() Spec {
	return *l.spec.Load()
}

// Min returns the most verbose level of the active spec.
func (l *Levels) Min() Level {
	return l.spec.Load().Min()
}

// LevelFor returns the effective level for a component.
func (l *Levels) LevelFor(component string) Level {
	return l.spec.Load().LevelFor(component)
}
