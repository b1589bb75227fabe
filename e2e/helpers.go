//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe/client"
	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/logging"
	"github.com/frobware/go-ipipe/server"
)

// TestEnv runs a complete daemon in an isolated runtime directory and
// a client connected to its socket.
type TestEnv struct {
	T      *testing.T
	Dirs   config.RuntimeDirs
	Client client.Client
	Levels *logging.Levels
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan error
}

// NewTestEnv starts a daemon for cfg. Set IPIPE_LOG to see its logs,
// e.g. IPIPE_LOG=info,dispatch=trace.
//
// The daemon is stopped and its directories removed via t.Cleanup().
func NewTestEnv(t *testing.T, cfg config.Config) *TestEnv {
	t.Helper()

	testName := sanitizeTestName(t.Name())
	baseDir := filepath.Join(os.TempDir(), fmt.Sprintf("ipipe-e2e-%d-%s", os.Getpid(), testName))

	dirs, err := config.NewRuntimeDirs(baseDir)
	require.NoError(t, err)

	output := io.Discard
	spec := os.Getenv(logging.EnvVar)
	if spec != "" {
		output = os.Stderr
	}
	logger, levels, err := logging.NewWithLevels(logging.Options{
		EnvSpec: spec,
		Format:  logging.FormatText,
		Output:  output,
	})
	require.NoError(t, err, "invalid %s spec", logging.EnvVar)

	ctx, cancel := context.WithCancel(context.Background())
	env := &TestEnv{
		T:      t,
		Dirs:   dirs,
		Levels: levels,
		logger: logger,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() {
		env.done <- server.Run(ctx, server.RunConfig{
			Dirs:   dirs,
			Logger: logger,
			Levels: levels,
			Config: cfg,
		})
	}()
	t.Cleanup(env.cleanup)

	c, err := client.Dial(dirs.SocketPath(), client.WithLogger(logger))
	require.NoError(t, err, "failed to create client")
	env.Client = c

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := c.Version(ctx)
		return err == nil
	}, 30*time.Second, 50*time.Millisecond, "daemon did not come up")

	return env
}

// runDaemon runs a quiet daemon in the foreground until ctx is done.
func runDaemon(ctx context.Context, dirs config.RuntimeDirs, cfg config.Config) error {
	return server.Run(ctx, server.RunConfig{
		Dirs:   dirs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: cfg,
	})
}

// cleanup stops the daemon and removes the runtime directories.
func (e *TestEnv) cleanup() {
	if e.Client != nil {
		e.Client.Close()
	}

	e.cancel()
	select {
	case err := <-e.done:
		if err != nil {
			e.T.Errorf("daemon exited with error: %v", err)
		}
	case <-time.After(30 * time.Second):
		e.T.Errorf("daemon did not stop")
	}

	if err := os.RemoveAll(e.Dirs.Base()); err != nil {
		e.T.Logf("warning: failed to remove %s: %v", e.Dirs.Base(), err)
	}
	if err := os.RemoveAll(e.Dirs.Sock()); err != nil {
		e.T.Logf("warning: failed to remove %s: %v", e.Dirs.Sock(), err)
	}
}

// Deliveries returns how many times the named configured domain
// received irq.
func (e *TestEnv) Deliveries(name string, irq uint32) uint64 {
	e.T.Helper()
	domains, err := e.Client.Domains(context.Background())
	require.NoError(e.T, err, "failed to list domains")
	for _, d := range domains {
		if d.Name == name {
			return d.Deliveries[irq]
		}
	}
	e.T.Fatalf("domain %s not listed", name)
	return 0
}

// AssertDeliveries verifies the delivery count of a configured domain.
func (e *TestEnv) AssertDeliveries(name string, irq uint32, expected uint64) {
	e.T.Helper()
	require.Equal(e.T, expected, e.Deliveries(name, irq), "deliveries of IRQ %d to %s", irq, name)
}

// EventuallyDeliveries waits for the delivery count of a configured
// domain to reach expected.
func (e *TestEnv) EventuallyDeliveries(name string, irq uint32, expected uint64) {
	e.T.Helper()
	require.Eventually(e.T, func() bool {
		return e.Deliveries(name, irq) == expected
	}, 10*time.Second, 10*time.Millisecond, "deliveries of IRQ %d to %s", irq, name)
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func sanitizeTestName(name string) string {
	return nonAlnum.ReplaceAllString(name, "_")
}

// cleanupStaleTestDirs removes directories left by crashed runs.
func cleanupStaleTestDirs() {
	matches, _ := filepath.Glob(filepath.Join(os.TempDir(), "ipipe-e2e-*"))
	for _, m := range matches {
		os.RemoveAll(m)
	}
}
