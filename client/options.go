package client

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/frobware/go-ipipe/config"
)

// DefaultSocketPath returns the daemon socket of the default runtime
// directory.
func DefaultSocketPath() string {
	return config.DefaultRuntimeDirs().SocketPath()
}

// DefaultCallTimeout bounds calls made without a context deadline.
const DefaultCallTimeout = 30 * time.Second

// options is shared by Dial and Open; each reads the fields that
// concern it.
type options struct {
	logger      *slog.Logger
	callTimeout time.Duration

	// Open only.
	dbPath string
	config config.Config
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		callTimeout: DefaultCallTimeout,
		config:      config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures Dial or Open.
type Option func(*options)

// WithLogger sets the logger for client operations. The default
// discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCallTimeout bounds every call whose context has no deadline.
// Zero leaves such calls unbounded.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithTraceDB keeps the traces of Open in the SQLite database at
// path instead of in memory. Dial ignores it.
func WithTraceDB(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// WithConfig sets the configuration Open builds its pipeline from.
// The default is the embedded configuration. Dial ignores it.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// Dial connects to an ipipe daemon. The address can be:
//   - "host:port" for TCP connections
//   - "unix:///path/to/socket" for Unix socket connections
//   - "/path/to/socket" for Unix socket connections (shorthand)
//
// Connecting is lazy: an unreachable daemon surfaces on the first
// call. The returned client must be closed when no longer needed.
func Dial(address string, opts ...Option) (Client, error) {
	c, err := newRemote(address, newOptions(opts))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open starts a private pipeline in-process and returns a client
// talking to it over gRPC. The pipeline lives until Close.
func Open(ctx context.Context, opts ...Option) (Client, error) {
	o := newOptions(opts)
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	c, err := newEphemeral(ctx, o)
	if err != nil {
		return nil, err
	}
	return c, nil
}
