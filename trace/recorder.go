package trace

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultDepth is the number of points each ring keeps.
const DefaultDepth = 1024

// ring is a fixed-size circular buffer of points for one CPU.
type ring struct {
	mu     sync.Mutex
	points []Point
	next   int
	full   bool
}

func (r *ring) add(p Point) {
	r.mu.Lock()
	r.points[r.next] = p
	r.next++
	if r.next == len(r.points) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// copyTo appends the ring content to dst, oldest first.
func (r *ring) copyTo(dst []Point) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		dst = append(dst, r.points[r.next:]...)
	}
	return append(dst, r.points[:r.next]...)
}

func (r *ring) reset() {
	r.mu.Lock()
	r.next = 0
	r.full = false
	r.mu.Unlock()
}

// Recorder records begin/end points per CPU and freezes them into
// snapshots.
type Recorder struct {
	rings  []*ring
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	// frozen is set by the first Freeze and cleared by Reset.
	// Points are not recorded while frozen.
	frozen atomic.Bool
	last   atomic.Pointer[Snapshot]
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSink sets the sink frozen snapshots are saved to.
func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a recorder for cpus CPUs keeping depth points
// per CPU. A depth of zero selects DefaultDepth.
func NewRecorder(cpus, depth int, opts ...Option) *Recorder {
	if depth <= 0 {
		depth = DefaultDepth
	}
	r := &Recorder{
		rings:  make([]*ring, cpus),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for i := range r.rings {
		r.rings[i] = &ring{points: make([]Point, depth)}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "trace")
	return r
}

func (r *Recorder) record(cpu int, kind Kind, code uint32) {
	if r.frozen.Load() || cpu < 0 || cpu >= len(r.rings) {
		return
	}
	r.rings[cpu].add(Point{Time: r.now(), CPU: cpu, Kind: kind, Code: code})
}

// Begin records entry into code on cpu.
func (r *Recorder) Begin(cpu int, code uint32) { r.record(cpu, KindBegin, code) }

// End records exit from code on cpu.
func (r *Recorder) End(cpu int, code uint32) { r.record(cpu, KindEnd, code) }

// Freeze stops recording and captures every ring. Only the first
// freeze after construction or Reset captures anything.
func (r *Recorder) Freeze(cpu int, reason string) {
	if !r.frozen.CompareAndSwap(false, true) {
		r.logger.Debug("trace already frozen", "cpu", cpu, "reason", reason)
		return
	}

	now := r.now()
	var points []Point
	for _, rg := range r.rings {
		points = rg.copyTo(points)
	}
	points = append(points, Point{Time: now, CPU: cpu, Kind: KindFreeze})
	slices.SortStableFunc(points, func(a, b Point) int { return a.Time.Compare(b.Time) })

	s := &Snapshot{
		ID:     uuid.New(),
		CPU:    cpu,
		Reason: reason,
		Taken:  now,
		Points: points,
	}
	r.last.Store(s)
	r.logger.Info("trace frozen", "id", s.ID, "cpu", cpu, "reason", reason, "points", len(points))

	if r.sink == nil {
		return
	}
	if err := r.sink.Save(context.Background(), s); err != nil {
		r.logger.Error("failed to save trace snapshot", "id", s.ID, "error", err)
	}
}

// Frozen reports whether the recorder is frozen.
func (r *Recorder) Frozen() bool { return r.frozen.Load() }

// Last returns the most recent snapshot, or nil.
func (r *Recorder) Last() *Snapshot { return r.last.Load() }

// Reset empties the rings and re-arms recording.
func (r *Recorder) Reset() {
	for _, rg := range r.rings {
		rg.reset()
	}
	r.frozen.Store(false)
}
