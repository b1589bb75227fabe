package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/machine"
	"github.com/frobware/go-ipipe/pipeline"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set IPIPE_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("IPIPE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects deliveries as "domain:irq@cpu" strings.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}

// handler returns a handler recording deliveries under name.
func (r *recorder) handler(name string) pipeline.Handler {
	return pipeline.HandlerFunc(func(c *pipeline.CPU, irq ipipe.IRQ, _ any) {
		r.add(fmt.Sprintf("%s:%d@%d", name, uint32(irq), c.ID()))
	})
}

// testFixture is a started machine with a pipeline attached. Root
// deliveries of device lines are recorded as "root:irq@cpu".
type testFixture struct {
	Machine  *machine.Machine
	Pipeline *pipeline.Pipeline
	Rec      *recorder
	Fatals   []*ipipe.FatalError
	t        *testing.T
}

func newTestFixture(t *testing.T, cpus int, opts ...pipeline.Option) *testFixture {
	t.Helper()
	m, err := machine.New(machine.Config{CPUs: cpus, Logger: testLogger()})
	require.NoError(t, err, "failed to create machine")

	f := &testFixture{Machine: m, Rec: &recorder{}, t: t}
	root := f.Rec.handler("root")
	filter := pipeline.HandlerFunc(func(c *pipeline.CPU, irq ipipe.IRQ, cookie any) {
		if irq == ipipe.CriticalIPI {
			return
		}
		root.Handle(c, irq, cookie)
	})
	opts = append([]pipeline.Option{pipeline.WithLogger(testLogger()), pipeline.WithRootHandler(filter)}, opts...)
	p, err := pipeline.New(m, opts...)
	require.NoError(t, err, "failed to create pipeline")

	m.OnFatal(func(_ int, err *ipipe.FatalError) { f.Fatals = append(f.Fatals, err) })
	m.Attach(p)
	m.Start()
	t.Cleanup(m.Stop)
	f.Pipeline = p
	return f
}

// On runs fn on cpu and waits for it.
func (f *testFixture) On(cpu int, fn func(c *pipeline.CPU)) {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := f.Pipeline.CPU(cpu)
	require.NoError(f.t, f.Machine.Exec(ctx, cpu, func() { fn(c) }), "cpu %d did not complete", cpu)
}

// Register registers a domain from CPU 0.
func (f *testFixture) Register(name string, priority int) *pipeline.Domain {
	f.t.Helper()
	var (
		d   *pipeline.Domain
		err error
	)
	f.On(0, func(c *pipeline.CPU) {
		d, err = c.Register(pipeline.DomainAttr{Name: name, Priority: priority})
	})
	require.NoError(f.t, err, "failed to register %s", name)
	return d
}

// Virtualize installs a recording handler for irq in d.
func (f *testFixture) Virtualize(d *pipeline.Domain, irq ipipe.IRQ, mode ipipe.ControlFlags) {
	f.t.Helper()
	require.NoError(f.t, f.Pipeline.VirtualizeIRQ(d, irq, f.Rec.handler(d.Name()), nil, nil, mode))
}

// Raise delivers a device interrupt the way hardware would and waits
// until the target CPU processed it.
func (f *testFixture) Raise(cpu int, irq ipipe.IRQ) {
	f.t.Helper()
	vector, ok := machine.VectorOf(irq)
	require.True(f.t, ok, "irq %d has no vector", irq)
	f.Machine.Raise(cpu, vector)
	f.On(cpu, func(*pipeline.CPU) {})
}
