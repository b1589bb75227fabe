// Package trace records the pipeline hot path into per-CPU rings and
// captures frozen snapshots of them when the pipeline reports a
// condition worth keeping, such as an unhandled fault or a fatal
// dispatch error.
//
// A Recorder implements pipeline.Tracer. Each CPU writes only its own
// ring, so recording never contends across CPUs; freezing reads every
// ring and hands the merged, time-ordered points to a Sink.
package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by sinks when a snapshot does not exist.
var ErrNotFound = errors.New("trace snapshot not found")

// Kind is the kind of a trace point.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindEnd
	KindFreeze
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "begin"
	case KindEnd:
		return "end"
	case KindFreeze:
		return "freeze"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "begin":
		return KindBegin, nil
	case "end":
		return KindEnd, nil
	case "freeze":
		return KindFreeze, nil
	}
	return 0, fmt.Errorf("unknown trace point kind %q", s)
}

// Point is one recorded event.
type Point struct {
	Time time.Time `json:"time"`
	CPU  int       `json:"cpu"`
	Kind Kind      `json:"kind"`
	Code uint32    `json:"code"`
}

// Snapshot is the frozen content of every ring.
type Snapshot struct {
	ID     uuid.UUID `json:"id"`
	CPU    int       `json:"cpu"`
	Reason string    `json:"reason"`
	Taken  time.Time `json:"taken"`
	Points []Point   `json:"points,omitempty"`
}

// Summary describes a stored snapshot without its points.
type Summary struct {
	ID     uuid.UUID `json:"id"`
	CPU    int       `json:"cpu"`
	Reason string    `json:"reason"`
	Taken  time.Time `json:"taken"`
	Points int       `json:"points"`
}

// Summary returns the summary of s.
func (s *Snapshot) Summary() Summary {
	return Summary{ID: s.ID, CPU: s.CPU, Reason: s.Reason, Taken: s.Taken, Points: len(s.Points)}
}

// Sink receives frozen snapshots.
type Sink interface {
	Save(ctx context.Context, s *Snapshot) error
}

// Source serves stored snapshots.
type Source interface {
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id uuid.UUID) (*Snapshot, error)
}
