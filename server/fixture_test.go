package server_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/logging"
	"github.com/frobware/go-ipipe/pipeline"
	"github.com/frobware/go-ipipe/server"
	"github.com/frobware/go-ipipe/trace/sqlite"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set IPIPE_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("IPIPE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFixture provides access to all components for verification.
type testFixture struct {
	Server *server.Server
	Env    *server.RuntimeEnv
	Store  *sqlite.Store
	Levels *logging.Levels
	t      *testing.T
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipeline.CPUs = 2
	cfg.Domains = []config.DomainConfig{
		{Name: "rt", Priority: 10, IRQs: []uint32{5}, Mode: "handle"},
		{Name: "monitor", Priority: 50, IRQs: []uint32{5, 6}},
	}
	return cfg
}

// newTestFixture creates a running pipeline with an in-memory trace
// store and a server over it.
func newTestFixture(t *testing.T, cfg config.Config) *testFixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.NewInMemory(ctx, testLogger())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { store.Close() })

	env, err := server.SetupRuntimeEnv(ctx, cfg, store, testLogger())
	require.NoError(t, err, "failed to set up runtime")
	t.Cleanup(func() { env.Close(context.Background()) })

	spec, err := logging.ParseSpec("info")
	require.NoError(t, err)
	levels := logging.NewLevels(spec)

	srv := server.New(env.Machine, env.Pipeline,
		server.WithDomains(env.Domains),
		server.WithRecorder(env.Recorder),
		server.WithTraceStore(store),
		server.WithLevels(levels),
		server.WithLogger(testLogger()),
	)
	return &testFixture{
		Server: srv,
		Env:    env,
		Store:  store,
		Levels: levels,
		t:      t,
	}
}

// exec runs fn on cpu and waits for it.
func (f *testFixture) exec(cpu int, fn func(c *pipeline.CPU)) {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := f.Env.Pipeline
	require.NoError(f.t, f.Env.Machine.Exec(ctx, cpu, func() { fn(p.CPU(cpu)) }))
}

// freeze raises a fault over the named domain on cpu, which freezes
// the recorder and saves a snapshot.
func (f *testFixture) freeze(cpu int, name string) {
	f.t.Helper()
	d, ok := f.Env.Pipeline.Lookup(name)
	require.True(f.t, ok, "domain %s", name)
	f.exec(cpu, func(c *pipeline.CPU) {
		c.Enter(d, func(c *pipeline.CPU) {
			c.HandleException(ipipe.FaultGeneralProtection, &ipipe.Regs{IP: 0x1000, CS: ipipe.KernelCS}, 0)
		})
	})
}
