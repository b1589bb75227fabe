package trace_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/machine"
	"github.com/frobware/go-ipipe/pipeline"
	"github.com/frobware/go-ipipe/trace"
)

var _ pipeline.Tracer = (*trace.Recorder)(nil)

// testLogger returns a logger for tests. By default it discards all output.
// Set IPIPE_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("IPIPE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tickClock returns a clock advancing by one microsecond per reading.
func tickClock() func() time.Time {
	var (
		mu  sync.Mutex
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Microsecond)
		return now
	}
}

type memSink struct {
	mu    sync.Mutex
	saved []*trace.Snapshot
	err   error
}

func (s *memSink) Save(_ context.Context, snap *trace.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return s.err
}

func (s *memSink) snapshots() []*trace.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*trace.Snapshot(nil), s.saved...)
}

func codes(points []trace.Point) []string {
	var out []string
	for _, p := range points {
		out = append(out, fmt.Sprintf("%s:%d@%d", p.Kind, p.Code, p.CPU))
	}
	return out
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind trace.Kind
		want string
	}{
		{trace.KindBegin, "begin"},
		{trace.KindEnd, "end"},
		{trace.KindFreeze, "freeze"},
		{trace.Kind(9), "kind(9)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
			if tt.kind <= trace.KindFreeze {
				got, err := trace.ParseKind(tt.want)
				require.NoError(t, err)
				assert.Equal(t, tt.kind, got)
			}
		})
	}
	_, err := trace.ParseKind("bogus")
	require.Error(t, err)
}

func TestFreezeMergesRingsInTimeOrder(t *testing.T) {
	sink := &memSink{}
	r := trace.NewRecorder(2, 8, trace.WithClock(tickClock()), trace.WithSink(sink), trace.WithLogger(testLogger()))

	r.Begin(0, 5)
	r.Begin(1, 7)
	r.End(1, 7)
	r.End(0, 5)
	r.Freeze(1, "test")

	require.True(t, r.Frozen())
	snaps := sink.snapshots()
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Same(t, s, r.Last())
	assert.Equal(t, 1, s.CPU)
	assert.Equal(t, "test", s.Reason)
	assert.NotEqual(t, uuid.Nil, s.ID)

	require.Len(t, s.Points, 5)
	want := []trace.Point{
		{CPU: 0, Kind: trace.KindBegin, Code: 5},
		{CPU: 1, Kind: trace.KindBegin, Code: 7},
		{CPU: 1, Kind: trace.KindEnd, Code: 7},
		{CPU: 0, Kind: trace.KindEnd, Code: 5},
		{CPU: 1, Kind: trace.KindFreeze},
	}
	for i, p := range s.Points {
		assert.Equal(t, want[i].CPU, p.CPU, "point %d", i)
		assert.Equal(t, want[i].Kind, p.Kind, "point %d", i)
		assert.Equal(t, want[i].Code, p.Code, "point %d", i)
		if i > 0 {
			assert.True(t, p.Time.After(s.Points[i-1].Time), "point %d is ordered", i)
		}
	}
	assert.Equal(t, s.Points[4].Time, s.Taken)
	assert.Equal(t, 5, s.Summary().Points)
}

func TestFreezeOnlyOnceUntilReset(t *testing.T) {
	sink := &memSink{}
	r := trace.NewRecorder(1, 4, trace.WithClock(tickClock()), trace.WithSink(sink))

	r.Begin(0, 1)
	r.Freeze(0, "first")
	r.Begin(0, 2)
	r.Freeze(0, "second")
	require.Len(t, sink.snapshots(), 1, "a frozen recorder ignores further freezes")
	assert.Len(t, r.Last().Points, 2, "points are not recorded while frozen")

	r.Reset()
	assert.False(t, r.Frozen())
	r.Begin(0, 3)
	r.Freeze(0, "third")
	snaps := sink.snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "third", snaps[1].Reason)
	require.Len(t, snaps[1].Points, 2)
	assert.Equal(t, uint32(3), snaps[1].Points[0].Code)
}

func TestRingKeepsNewestPoints(t *testing.T) {
	r := trace.NewRecorder(1, 3, trace.WithClock(tickClock()))
	for code := range uint32(5) {
		r.Begin(0, code)
	}
	r.Freeze(0, "overflow")

	var got []uint32
	for _, p := range r.Last().Points {
		if p.Kind == trace.KindBegin {
			got = append(got, p.Code)
		}
	}
	assert.Equal(t, []uint32{2, 3, 4}, got)
}

func TestRecordIgnoresUnknownCPU(t *testing.T) {
	r := trace.NewRecorder(1, 0)
	r.Begin(-1, 1)
	r.End(4, 1)
	r.Freeze(0, "empty")
	require.Len(t, r.Last().Points, 1)
	assert.Equal(t, trace.KindFreeze, r.Last().Points[0].Kind)
}

func TestSinkErrorIsNotFatal(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	r := trace.NewRecorder(1, 4, trace.WithSink(sink), trace.WithLogger(testLogger()))
	r.Freeze(0, "boom")
	assert.NotNil(t, r.Last())
	assert.Len(t, sink.snapshots(), 1)
}

func TestRecorderOnPipeline(t *testing.T) {
	m, err := machine.New(machine.Config{CPUs: 1, Logger: testLogger()})
	require.NoError(t, err)
	sink := &memSink{}
	rec := trace.NewRecorder(1, 64, trace.WithClock(tickClock()), trace.WithSink(sink))
	p, err := pipeline.New(m, pipeline.WithLogger(testLogger()), pipeline.WithTracer(rec))
	require.NoError(t, err)
	m.Attach(p)
	m.Start()
	t.Cleanup(m.Stop)

	exec := func(fn func(c *pipeline.CPU)) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, m.Exec(ctx, 0, func() { fn(p.CPU(0)) }))
	}

	var d *pipeline.Domain
	exec(func(c *pipeline.CPU) {
		d, err = c.Register(pipeline.DomainAttr{Name: "rt", Priority: 10})
	})
	require.NoError(t, err)

	vector, ok := machine.VectorOf(5)
	require.True(t, ok)
	m.Raise(0, vector)
	exec(func(c *pipeline.CPU) {
		c.Enter(d, func(c *pipeline.CPU) {
			c.HandleException(ipipe.FaultGeneralProtection, &ipipe.Regs{IP: 0x1000, CS: ipipe.KernelCS}, 0)
		})
	})

	snaps := sink.snapshots()
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Contains(t, s.Reason, "over domain rt")

	var begins, ends int
	for _, pt := range s.Points {
		if pt.Code != 5 {
			continue
		}
		switch pt.Kind {
		case trace.KindBegin:
			begins++
		case trace.KindEnd:
			ends++
		}
	}
	assert.Equal(t, 1, begins, "irq entry is traced: %v", codes(s.Points))
	assert.Equal(t, 1, ends, "irq exit is traced: %v", codes(s.Points))
	assert.Equal(t, trace.KindFreeze, s.Points[len(s.Points)-1].Kind)
}
