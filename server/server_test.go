package server_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/client"
	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/lock"
	"github.com/frobware/go-ipipe/logging"
	"github.com/frobware/go-ipipe/pipeline"
	"github.com/frobware/go-ipipe/server"
	pb "github.com/frobware/go-ipipe/server/pb"
	"github.com/frobware/go-ipipe/trace"
)

func trigger(t *testing.T, srv *server.Server, req pb.TriggerRequest) error {
	t.Helper()
	in, err := pb.EncodeStruct(req)
	require.NoError(t, err)
	_, err = srv.TriggerIRQ(context.Background(), in)
	return err
}

func cpu(n int) *int { return &n }

func TestVersionAndSysinfo(t *testing.T) {
	f := newTestFixture(t, testConfig())
	ctx := context.Background()

	v, err := f.Server.Version(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Version, v.GetValue())

	resp, err := f.Server.Sysinfo(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	var info ipipe.Sysinfo
	require.NoError(t, pb.Decode(resp, &info))
	assert.Equal(t, f.Env.Pipeline.Sysinfo(), info)
}

func TestListDomains(t *testing.T) {
	f := newTestFixture(t, testConfig())

	resp, err := f.Server.ListDomains(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	var domains []pb.DomainInfo
	require.NoError(t, pb.Decode(resp, &domains))

	require.Len(t, domains, 3)
	assert.Equal(t, "rt", domains[0].Name)
	assert.True(t, domains[0].Head)
	assert.Equal(t, "handle", domains[0].Mode)
	assert.Equal(t, []uint32{5}, domains[0].IRQs)
	assert.Equal(t, "monitor", domains[1].Name)
	assert.Equal(t, []uint32{5, 6}, domains[1].IRQs)
	assert.Equal(t, "root", domains[2].Name)
	assert.True(t, domains[2].Root)
	assert.Equal(t, pipeline.RootPriority, domains[2].Priority)
}

func TestTriggerIRQ(t *testing.T) {
	f := newTestFixture(t, testConfig())
	rt, _ := f.Env.Domains.Get("rt")
	monitor, _ := f.Env.Domains.Get("monitor")

	require.NoError(t, trigger(t, f.Server, pb.TriggerRequest{IRQ: 5, CPU: cpu(1)}))
	assert.Equal(t, uint64(1), rt.Count(1, 5))
	assert.Zero(t, monitor.Total(5), "rt does not pass irq 5")

	require.NoError(t, trigger(t, f.Server, pb.TriggerRequest{IRQ: 6, CPU: cpu(0)}))
	assert.Equal(t, uint64(1), monitor.Count(0, 6))

	require.NoError(t, trigger(t, f.Server, pb.TriggerRequest{IRQ: 5}))
	assert.Eventually(t, func() bool { return rt.Total(5) == 2 }, 10*time.Second, 10*time.Millisecond)

	resp, err := f.Server.ListDomains(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	var domains []pb.DomainInfo
	require.NoError(t, pb.Decode(resp, &domains))
	assert.Equal(t, map[uint32]uint64{5: 2}, domains[0].Deliveries)
	assert.Equal(t, map[uint32]uint64{6: 1}, domains[1].Deliveries)

	stats, err := f.Server.Stats(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	var ds []pipeline.DomainStats
	require.NoError(t, pb.Decode(stats, &ds))
	require.Len(t, ds, 3)
	assert.Equal(t, uint64(1), ds[0].CPUs[1].Hits[5])
}

func TestTriggerIRQErrors(t *testing.T) {
	f := newTestFixture(t, testConfig())

	tests := []struct {
		name string
		req  pb.TriggerRequest
		code codes.Code
	}{
		{name: "irq out of range", req: pb.TriggerRequest{IRQ: ipipe.NrTotalIRQs, CPU: cpu(0)}, code: codes.InvalidArgument},
		{name: "unallocated virq", req: pb.TriggerRequest{IRQ: uint32(ipipe.VirqBase), CPU: cpu(0)}, code: codes.InvalidArgument},
		{name: "cpu out of range", req: pb.TriggerRequest{IRQ: 5, CPU: cpu(2)}, code: codes.InvalidArgument},
		{name: "negative cpu", req: pb.TriggerRequest{IRQ: 5, CPU: cpu(-1)}, code: codes.InvalidArgument},
		{name: "system irq at the controller", req: pb.TriggerRequest{IRQ: uint32(ipipe.CriticalIPI)}, code: codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := trigger(t, f.Server, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err), err.Error())
		})
	}
}

func TestTriggerIRQPastDeadline(t *testing.T) {
	f := newTestFixture(t, testConfig())
	rt, _ := f.Env.Domains.Get("rt")

	release := make(chan struct{})
	f.Env.Machine.Post(1, func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	in, err := pb.EncodeStruct(pb.TriggerRequest{IRQ: 5, CPU: cpu(1)})
	require.NoError(t, err)
	_, err = f.Server.TriggerIRQ(ctx, in)
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err), err.Error())

	// The queued trigger still runs once cpu 1 is free.
	close(release)
	assert.Eventually(t, func() bool { return rt.Count(1, 5) == 1 }, 10*time.Second, 10*time.Millisecond)
}

func TestTraceLifecycle(t *testing.T) {
	f := newTestFixture(t, testConfig())
	ctx := context.Background()

	require.NoError(t, trigger(t, f.Server, pb.TriggerRequest{IRQ: 5, CPU: cpu(0)}))
	f.freeze(0, "rt")
	require.True(t, f.Env.Recorder.Frozen())

	resp, err := f.Server.ListTraces(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	var list []trace.Summary
	require.NoError(t, pb.Decode(resp, &list))
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Reason, "over domain rt")
	assert.Equal(t, 0, list[0].CPU)
	id := list[0].ID

	got, err := f.Server.GetTrace(ctx, wrapperspb.String(id.String()))
	require.NoError(t, err)
	var snap trace.Snapshot
	require.NoError(t, pb.Decode(got, &snap))
	assert.Equal(t, id, snap.ID)
	assert.Len(t, snap.Points, list[0].Points)
	assert.Equal(t, trace.KindFreeze, snap.Points[len(snap.Points)-1].Kind)

	// A second fault while frozen does not take another snapshot.
	f.freeze(1, "monitor")
	resp, err = f.Server.ListTraces(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.NoError(t, pb.Decode(resp, &list))
	assert.Len(t, list, 1)

	_, err = f.Server.RearmTrace(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.False(t, f.Env.Recorder.Frozen())
	f.freeze(1, "monitor")
	resp, err = f.Server.ListTraces(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.NoError(t, pb.Decode(resp, &list))
	assert.Len(t, list, 2)

	_, err = f.Server.DeleteTrace(ctx, wrapperspb.String(id.String()))
	require.NoError(t, err)
	_, err = f.Server.GetTrace(ctx, wrapperspb.String(id.String()))
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = f.Server.DeleteTrace(ctx, wrapperspb.String(id.String()))
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = f.Server.GetTrace(ctx, wrapperspb.String("not-a-uuid"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTracingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Trace.Enabled = false
	f := newTestFixture(t, cfg)
	require.Nil(t, f.Env.Recorder)

	_, err := f.Server.RearmTrace(context.Background(), &emptypb.Empty{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	resp, err := f.Server.ListTraces(context.Background(), &emptypb.Empty{})
	require.NoError(t, err, "stored traces stay listable")
	assert.Empty(t, resp.GetValues())
}

func TestNoTraceStore(t *testing.T) {
	f := newTestFixture(t, testConfig())
	srv := server.New(f.Env.Machine, f.Env.Pipeline, server.WithLogger(testLogger()))

	_, err := srv.ListTraces(context.Background(), &emptypb.Empty{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = srv.GetTrace(context.Background(), wrapperspb.String(uuid.NewString()))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = srv.GetLogSpec(context.Background(), &emptypb.Empty{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	resp, err := srv.ListDomains(context.Background(), &emptypb.Empty{})
	require.NoError(t, err, "domains are listed without the configured set")
	assert.Len(t, resp.GetValues(), 3)
}

func TestLogSpec(t *testing.T) {
	f := newTestFixture(t, testConfig())
	ctx := context.Background()

	got, err := f.Server.GetLogSpec(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "info", got.GetValue())

	got, err = f.Server.SetLogSpec(ctx, wrapperspb.String("warn,dispatch=trace,config=debug"))
	require.NoError(t, err)
	assert.Equal(t, "warn,config=debug,dispatch=trace", got.GetValue())
	assert.Equal(t, logging.LevelTrace, f.Levels.LevelFor("dispatch"))

	_, err = f.Server.SetLogSpec(ctx, wrapperspb.String("bogus"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, logging.LevelWarn, f.Levels.LevelFor("server"), "a bad spec leaves levels alone")
}

func TestOpHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := server.WithOpHandler(slog.New(slog.NewTextHandler(&buf, nil)))
	assert.Same(t, logger, server.WithOpHandler(logger), "wrapping is idempotent")

	ctx := server.ContextWithOp(context.Background(), server.Op{ID: 42, Method: "TriggerIRQ"})
	op, ok := server.OpFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(42), op.ID)
	_, ok = server.OpFromContext(context.Background())
	assert.False(t, ok)

	logger.With("component", "test").InfoContext(ctx, "hello")
	assert.Contains(t, buf.String(), "op_id=42")
	assert.Contains(t, buf.String(), "rpc=TriggerIRQ")
	assert.Contains(t, buf.String(), "component=test")

	buf.Reset()
	logger.Info("no op")
	assert.NotContains(t, buf.String(), "op_id")
}

func TestRunServesOverSocket(t *testing.T) {
	dirs, err := config.NewRuntimeDirs(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dirs.Sock()) })

	cfg := testConfig()
	cfg.Pipeline.TimerIRQ = 0
	spec, err := logging.ParseSpec("info")
	require.NoError(t, err)
	levels := logging.NewLevels(spec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx, server.RunConfig{
			Dirs:   dirs,
			Logger: testLogger(),
			Levels: levels,
			Config: cfg,
		})
	}()

	c, err := client.Dial(dirs.SocketPath())
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool {
		_, err := c.Version(ctx)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond, "server never came up")

	domains, err := c.Domains(ctx)
	require.NoError(t, err)
	require.Len(t, domains, 3)
	assert.Equal(t, "rt", domains[0].Name)

	require.NoError(t, c.TriggerIRQ(ctx, 1, 5))
	domains, err = c.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), domains[0].Deliveries[5])

	effective, err := c.SetLogSpec(ctx, "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", effective)
	assert.Equal(t, logging.LevelDebug, levels.LevelFor("server"))

	_, err = c.Trace(ctx, uuid.New())
	require.ErrorIs(t, err, client.ErrNotFound)

	pid, ok := lock.Holder(dirs.Lock())
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	second := server.Run(context.Background(), server.RunConfig{Dirs: dirs, Logger: testLogger(), Config: cfg})
	require.ErrorIs(t, second, lock.ErrHeld, "one daemon per runtime directory")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.FileExists(t, filepath.Join(dirs.DB(), "traces.db"))
}
