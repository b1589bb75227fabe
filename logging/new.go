package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format is the log output format.
type Format string

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = "json"
)

// ParseFormat parses a format string into a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// EnvVar is the environment variable holding a log spec.
const EnvVar = "IPIPE_LOG"

// Options configures the logger factory.
type Options struct {
	// CLISpec is the log spec from the command line (highest
	// precedence).
	CLISpec string
	// EnvSpec is the log spec from IPIPE_LOG.
	EnvSpec string
	// ConfigSpec is the log spec from the config file (lowest
	// precedence).
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stdout.
	Output io.Writer
}

// spec returns the first non-empty spec in precedence order.
func (o *Options) spec() string {
	for _, s := range []string{o.CLISpec, o.EnvSpec, o.ConfigSpec} {
		if s != "" {
			return s
		}
	}
	return ""
}

// New creates a logger with component-level filtering.
// Precedence: CLISpec > EnvSpec > ConfigSpec > info.
func New(opts Options) (*slog.Logger, error) {
	logger, _, err := NewWithLevels(opts)
	return logger, err
}

// NewWithLevels is New returning the Levels the logger filters with,
// so callers can change the spec of a running logger.
func NewWithLevels(opts Options) (*slog.Logger, *Levels, error) {
	spec, err := ParseSpec(opts.spec())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	// The filtering handler decides; the inner handler admits all.
	handlerOpts := &slog.HandlerOptions{
		Level:       LevelTrace.ToSlog(),
		ReplaceAttr: replaceLevel,
	}
	var inner slog.Handler
	if opts.Format == FormatJSON {
		inner = slog.NewJSONHandler(output, handlerOpts)
	} else {
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	levels := NewLevels(spec)
	return slog.New(NewFilteringHandler(inner, levels)), levels, nil
}

// Default creates an info level text logger on stdout.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}

// FromEnv creates a logger configured by IPIPE_LOG.
func FromEnv() (*slog.Logger, error) {
	return New(Options{
		EnvSpec: os.Getenv(EnvVar),
	})
}
