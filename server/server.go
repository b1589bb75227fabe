// Package server implements the ipipe daemon and its gRPC control
// plane.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/lock"
	"github.com/frobware/go-ipipe/logging"
	"github.com/frobware/go-ipipe/machine"
	"github.com/frobware/go-ipipe/pipeline"
	"github.com/frobware/go-ipipe/rtdomain"
	pb "github.com/frobware/go-ipipe/server/pb"
	"github.com/frobware/go-ipipe/trace"
	"github.com/frobware/go-ipipe/trace/sqlite"
)

// RunConfig configures the daemon.
type RunConfig struct {
	Dirs         config.RuntimeDirs
	TCPAddress   string // Optional TCP address (e.g., ":50061") for remote access
	PprofAddress string // Optional address for pprof HTTP server (e.g., "localhost:2026")
	// ConfigPath, when set, is watched and logging changes in it are
	// applied to Levels.
	ConfigPath string
	Logger     *slog.Logger
	Levels     *logging.Levels
	Config     config.Config
}

// Run starts the ipipe daemon: it takes the runtime lock, builds the
// machine and its pipeline, starts the configured domains and the
// timer, then serves the control plane until ctx is cancelled.
func Run(ctx context.Context, cfg RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	// The interceptor puts the request op in the context.
	logger = WithOpHandler(logger)

	if err := cfg.Dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}

	return lock.TryRun(ctx, cfg.Dirs.Lock(), func(ctx context.Context, scope lock.Scope) error {
		logger.Debug("holding daemon lock", "path", scope.Path(), "fd", scope.FD())
		return run(ctx, cfg, logger)
	})
}

func run(ctx context.Context, cfg RunConfig, logger *slog.Logger) error {
	dbPath := cfg.Dirs.DBPath()
	st, err := sqlite.New(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", dbPath, err)
	}
	defer st.Close()

	env, err := SetupRuntimeEnv(ctx, cfg.Config, st, logger)
	if err != nil {
		return err
	}
	defer env.Close(context.WithoutCancel(ctx))

	if err := env.Machine.StartTimer(ctx, env.Pipeline.TimerIRQ(), cfg.Config.Pipeline.TimerFreqHz); err != nil {
		return fmt.Errorf("timer: %w", err)
	}

	if cfg.ConfigPath != "" && cfg.Levels != nil {
		levels := cfg.Levels
		if err := config.Watch(ctx, cfg.ConfigPath, logger, func(c config.Config) {
			spec := c.Logging.ToSpec()
			if err := levels.SetString(spec); err != nil {
				logger.Warn("ignoring log spec from config", "spec", spec, "error", err)
				return
			}
			effective := levels.Spec()
			logger.Info("log spec changed", "spec", effective.String())
		}); err != nil {
			logger.Warn("config changes will not be applied", "error", err)
		}
	}

	if cfg.PprofAddress != "" {
		pprofListener, err := net.Listen("tcp", cfg.PprofAddress)
		if err != nil {
			return fmt.Errorf("pprof listen on %s: %w", cfg.PprofAddress, err)
		}
		pprofServer := &http.Server{}
		logger.Info("pprof HTTP server listening", "address", pprofListener.Addr().String())
		go func() {
			if err := pprofServer.Serve(pprofListener); err != nil && err != http.ErrServerClosed {
				logger.Error("pprof HTTP server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			pprofServer.Close()
		}()
	}

	srv := New(env.Machine, env.Pipeline,
		WithDomains(env.Domains),
		WithRecorder(env.Recorder),
		WithTraceStore(st),
		WithLevels(cfg.Levels),
		WithLogger(logger),
	)
	return srv.serve(ctx, cfg.Dirs.SocketPath(), cfg.TCPAddress)
}

// TraceStore is where frozen trace snapshots are kept.
type TraceStore interface {
	trace.Source
	Delete(ctx context.Context, id uuid.UUID) error
}

// Server implements the ipipe gRPC service.
type Server struct {
	pb.UnimplementedPipelineServer

	m         *machine.Machine
	p         *pipeline.Pipeline
	domains   *rtdomain.Set
	rec       *trace.Recorder
	traces    TraceStore
	levels    *logging.Levels
	logger    *slog.Logger
	opCounter atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// WithDomains sets the domains the daemon configuration started.
func WithDomains(set *rtdomain.Set) Option {
	return func(s *Server) { s.domains = set }
}

// WithRecorder sets the hot path recorder.
func WithRecorder(rec *trace.Recorder) Option {
	return func(s *Server) { s.rec = rec }
}

// WithTraceStore sets the store of frozen snapshots.
func WithTraceStore(ts TraceStore) Option {
	return func(s *Server) { s.traces = ts }
}

// WithLevels sets the levels SetLogSpec changes.
func WithLevels(levels *logging.Levels) Option {
	return func(s *Server) { s.levels = levels }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server for the pipeline p running on m.
func New(m *machine.Machine, p *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{m: m, p: p}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = WithOpHandler(s.logger).With("component", "server")
	return s
}

// Register registers the service with g.
func (s *Server) Register(g *grpc.Server) {
	pb.RegisterPipelineServer(g, s)
}

// NewGRPCServer returns a gRPC server with s registered and the
// logging interceptor installed.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(s.loggingInterceptor())}, opts...)
	g := grpc.NewServer(opts...)
	s.Register(g)
	return g
}

// serve starts the gRPC server on the given socket path and optionally on TCP.
func (s *Server) serve(ctx context.Context, socketPath, tcpAddr string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	unixListener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer unixListener.Close()

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	grpcServer := s.NewGRPCServer()

	errChan := make(chan error, 2)

	go func() {
		s.logger.InfoContext(ctx, "ipipe gRPC server listening", "socket", socketPath)
		if err := grpcServer.Serve(unixListener); err != nil {
			errChan <- fmt.Errorf("unix socket server: %w", err)
		}
	}()

	if tcpAddr != "" {
		tcpListener, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			grpcServer.GracefulStop()
			return fmt.Errorf("failed to listen on TCP %s: %w", tcpAddr, err)
		}

		go func() {
			s.logger.InfoContext(ctx, "ipipe gRPC server listening", "tcp", tcpListener.Addr().String())
			if err := grpcServer.Serve(tcpListener); err != nil {
				errChan <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "shutting down gRPC server")
		grpcServer.GracefulStop()
		return nil
	case err := <-errChan:
		grpcServer.Stop()
		return err
	}
}

// loggingInterceptor returns a gRPC unary interceptor that assigns a
// monotonic operation ID to each request, maps pipeline errors to
// status codes and logs failures.
func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		op := newOp(s.opCounter.Add(1), info.FullMethod)
		ctx = ContextWithOp(ctx, op)
		s.logger.DebugContext(ctx, "grpc request")
		resp, err := handler(ctx, req)
		if err != nil {
			err = toStatus(err)
			s.logger.ErrorContext(ctx, "grpc error", "error", err)
			return resp, err
		}
		s.logger.DebugContext(ctx, "grpc done", "took", time.Since(op.Start))
		return resp, nil
	}
}
