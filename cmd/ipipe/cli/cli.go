// Package cli implements the ipipe command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/client"
	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/logging"
)

// CLI is the root command structure for ipipe.
type CLI struct {
	Config     string `name:"config" help:"Config file path." default:"${default_config_path}"`
	RuntimeDir string `name:"runtime-dir" help:"Runtime directory of the daemon." default:"${default_runtime_dir}"`
	Log        string `name:"log" help:"Log spec (e.g., 'info,dispatch=debug')." env:"IPIPE_LOG"`
	Remote     string `name:"remote" short:"r" help:"Daemon endpoint (unix:///path or host:port). Defaults to the socket in the runtime directory."`
	Ephemeral  bool   `name:"ephemeral" help:"Run the command against a private in-process pipeline built from the config file."`

	Serve   ServeCmd   `cmd:"" help:"Start the pipeline daemon."`
	Version VersionCmd `cmd:"" help:"Print the pipeline revision."`
	Sysinfo SysinfoCmd `cmd:"" help:"Print the machine calibration."`
	Domains DomainsCmd `cmd:"" help:"List the registered domains."`
	Stats   StatsCmd   `cmd:"" help:"Show per-CPU domain state."`
	Trigger TriggerCmd `cmd:"" help:"Raise an interrupt."`
	Trace   TraceCmd   `cmd:"" help:"Frozen trace operations."`
	LogSpec LogSpecCmd `cmd:"" name:"log-spec" help:"Show or change the daemon log spec."`

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("ipipe"),
		kong.Description("Interrupt pipeline daemon and control tool."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(ipipe.IRQ(0)), irqMapper()),
		kong.TypeMapper(reflect.TypeOf(TraceID{}), traceIDMapper()),
		kong.Vars{
			"default_runtime_dir": config.DefaultRuntimeDir,
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// Execute parses args and runs the selected command, writing command
// output to out.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	cmd := CLI{Out: out}

	opts := append(KongOptions(),
		kong.Writers(out, os.Stderr),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	parser, err := kong.New(&cmd, opts...)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return kctx.Run(&cmd)
}

// LoadConfig loads and validates the configuration from the config
// file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", c.Config, err)
	}
	return cfg, nil
}

// RuntimeDirs returns the runtime directories selected by
// --runtime-dir.
func (c *CLI) RuntimeDirs() (config.RuntimeDirs, error) {
	return config.NewRuntimeDirs(c.RuntimeDir)
}

// Logger creates a logger for CLI commands.
// CLI commands default to WARN level for quieter output.
// Use LoggerFromConfig for long-running services like serve.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	// CLI commands default to warn unless --log is specified
	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings and
// returns the levels it filters with, so the daemon can change them
// while running. Output goes to stdout for daemon log collection.
func (c *CLI) LoggerFromConfig(cfg config.Config) (*slog.Logger, *logging.Levels, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}

	return logging.NewWithLevels(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}

// Client returns a client for the selected transport: a private
// in-process pipeline with --ephemeral, otherwise the daemon at
// --remote or the runtime directory socket.
// The returned client must be closed when no longer needed.
func (c *CLI) Client(ctx context.Context) (client.Client, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}

	if c.Ephemeral {
		cfg, err := c.LoadConfig()
		if err != nil {
			return nil, err
		}
		return client.Open(ctx, client.WithConfig(cfg), client.WithLogger(logger))
	}

	address := c.Remote
	if address == "" {
		dirs, err := c.RuntimeDirs()
		if err != nil {
			return nil, err
		}
		address = dirs.SocketPath()
	}
	return client.Dial(address, client.WithLogger(logger))
}

// PrintOut writes s to the command output.
func (c *CLI) PrintOut(s string) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	_, err := io.WriteString(out, s)
	return err
}

// PrintOutf formats to the command output.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.PrintOut(fmt.Sprintf(format, args...))
}
