package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frobware/go-ipipe/server"
)

// ServeCmd starts the gRPC daemon.
type ServeCmd struct {
	TCPAddress   string `name:"tcp-address" help:"TCP address for gRPC server (empty disables it)." default:"[::]:50061"`
	PprofAddress string `name:"pprof-address" help:"Address for the pprof HTTP server (empty disables it)."`
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	appConfig, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, levels, err := cli.LoggerFromConfig(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}

	cfg := server.RunConfig{
		Dirs:         dirs,
		TCPAddress:   c.TCPAddress,
		PprofAddress: c.PprofAddress,
		ConfigPath:   cli.Config,
		Logger:       logger,
		Levels:       levels,
		Config:       appConfig,
	}

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.Run(ctx, cfg)
}
