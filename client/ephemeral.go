package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/grpc"

	"github.com/frobware/go-ipipe/server"
	"github.com/frobware/go-ipipe/trace/sqlite"
)

// ephemeralClient runs a private pipeline and an in-process gRPC
// server on a temporary Unix socket, and talks to it like a remote
// client does. The gRPC handlers stay the only implementation of the
// operations.
type ephemeralClient struct {
	*remoteClient

	env        *server.RuntimeEnv
	store      *sqlite.Store
	grpcServer *grpc.Server
	socketDir  string // removed on Close
	wg         sync.WaitGroup
	closeOnce  sync.Once
	logger     *slog.Logger
}

func newEphemeral(ctx context.Context, o *options) (_ *ephemeralClient, err error) {
	logger := o.logger
	e := &ephemeralClient{logger: logger}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	if o.dbPath != "" {
		e.store, err = sqlite.New(ctx, o.dbPath, logger)
	} else {
		e.store, err = sqlite.NewInMemory(ctx, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}

	e.env, err = server.SetupRuntimeEnv(ctx, o.config, e.store, logger)
	if err != nil {
		return nil, err
	}

	srv := server.New(e.env.Machine, e.env.Pipeline,
		server.WithDomains(e.env.Domains),
		server.WithRecorder(e.env.Recorder),
		server.WithTraceStore(e.store),
		server.WithLogger(logger),
	)
	e.grpcServer = srv.NewGRPCServer()

	e.socketDir, err = os.MkdirTemp("", "ipipe-ephemeral-")
	if err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	socketPath := filepath.Join(e.socketDir, "ipipe.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on socket %s: %w", socketPath, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.grpcServer.Serve(listener); err != nil {
			logger.Error("ephemeral server failed", "error", err)
		}
	}()

	e.remoteClient, err = newRemote(socketPath, o)
	if err != nil {
		return nil, fmt.Errorf("connect to ephemeral server: %w", err)
	}
	return e, nil
}

// Close shuts down the server and the pipeline and releases all
// resources.
func (e *ephemeralClient) Close() error {
	e.closeOnce.Do(e.release)
	return nil
}

func (e *ephemeralClient) release() {
	if e.remoteClient != nil {
		e.remoteClient.Close()
	}
	if e.grpcServer != nil {
		e.grpcServer.GracefulStop()
		e.wg.Wait()
	}
	if e.env != nil {
		_ = e.env.Close(context.Background())
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.socketDir != "" {
		if err := os.RemoveAll(e.socketDir); err != nil {
			e.logger.Warn("failed to remove socket directory", "path", e.socketDir, "error", err)
		}
	}
}
