package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe/logging"
)

func newBufferLogger(t *testing.T, spec string) (*slog.Logger, *logging.Levels, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, levels, err := logging.NewWithLevels(logging.Options{CLISpec: spec, Output: &buf})
	require.NoError(t, err)
	return logger, levels, &buf
}

func TestComponentLevels(t *testing.T) {
	tests := []struct {
		component string
		level     logging.Level
		logged    bool
	}{
		{"", logging.LevelInfo, false},
		{"", logging.LevelWarn, true},
		{"dispatch", logging.LevelTrace, false},
		{"dispatch", logging.LevelDebug, true},
		{"store", logging.LevelTrace, true},
		{"server", logging.LevelDebug, false},
		{"server", logging.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.component+"/"+tt.level.String(), func(t *testing.T) {
			logger, _, buf := newBufferLogger(t, "warn,dispatch=debug,store=trace")
			if tt.component != "" {
				logger = logger.With("component", tt.component)
			}
			logger.Log(context.Background(), tt.level.ToSlog(), "message")
			assert.Equal(t, tt.logged, buf.Len() > 0, buf.String())
		})
	}
}

func TestRecordComponentOverridesHandler(t *testing.T) {
	logger, _, buf := newBufferLogger(t, "warn,fault=debug")

	logger.Debug("fault record", "component", "fault")
	assert.Contains(t, buf.String(), "fault record")

	buf.Reset()
	logger.Debug("server record", "component", "server")
	assert.Empty(t, buf.String())

	buf.Reset()
	logger.With("component", "server").Debug("rebound", "component", "fault")
	assert.Contains(t, buf.String(), "rebound")
}

func TestFilteringHandler_Enabled(t *testing.T) {
	spec, err := logging.ParseSpec("warn,dispatch=trace")
	require.NoError(t, err)

	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	handler := logging.NewFilteringHandler(inner, logging.NewLevels(spec))
	ctx := context.Background()

	// Unbound handlers admit the most verbose level in the spec
	assert.True(t, handler.Enabled(ctx, logging.LevelTrace.ToSlog()))

	bound := handler.WithAttrs([]slog.Attr{slog.String("component", "server")})
	assert.False(t, bound.Enabled(ctx, slog.LevelInfo))
	assert.True(t, bound.Enabled(ctx, slog.LevelWarn))

	grouped := bound.WithGroup("request")
	assert.False(t, grouped.Enabled(ctx, slog.LevelInfo), "groups keep the component")
}

func TestLevelsChangeRunningLogger(t *testing.T) {
	logger, levels, buf := newBufferLogger(t, "info")
	dispatch := logger.With("component", "dispatch")

	dispatch.Debug("before")
	assert.Empty(t, buf.String())

	require.NoError(t, levels.SetString("info,dispatch=debug"))
	dispatch.Debug("after")
	assert.Contains(t, buf.String(), "after")

	require.Error(t, levels.SetString("info,dispatch=loud"))
	spec := levels.Spec()
	assert.Equal(t, "info,dispatch=debug", spec.String(), "bad spec leaves levels unchanged")
}

func TestTraceLevelLabel(t *testing.T) {
	logger, _, buf := newBufferLogger(t, "trace")
	logger.Log(context.Background(), logging.LevelTrace.ToSlog(), "hot path")
	assert.Contains(t, buf.String(), "level=TRACE")

	var jsonBuf bytes.Buffer
	jsonLogger, err := logging.New(logging.Options{CLISpec: "trace", Format: logging.FormatJSON, Output: &jsonBuf})
	require.NoError(t, err)
	jsonLogger.Log(context.Background(), logging.LevelTrace.ToSlog(), "hot path")
	assert.Contains(t, jsonBuf.String(), `"level":"TRACE"`)
}

func TestNew_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		opts      logging.Options
		wantLevel logging.Level
	}{
		{
			name:      "cli over env",
			opts:      logging.Options{CLISpec: "error", EnvSpec: "debug", ConfigSpec: "info"},
			wantLevel: logging.LevelError,
		},
		{
			name:      "env over config",
			opts:      logging.Options{EnvSpec: "debug", ConfigSpec: "warn"},
			wantLevel: logging.LevelDebug,
		},
		{
			name:      "config alone",
			opts:      logging.Options{ConfigSpec: "warn"},
			wantLevel: logging.LevelWarn,
		},
		{
			name:      "default info",
			opts:      logging.Options{},
			wantLevel: logging.LevelInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, levels, err := logging.NewWithLevels(tt.opts)
			require.NoError(t, err)
			spec := levels.Spec()
			assert.Equal(t, tt.wantLevel, spec.BaseLevel)
		})
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := logging.New(logging.Options{CLISpec: "info,=debug"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log spec")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    logging.Format
		wantErr bool
	}{
		{"text", logging.FormatText, false},
		{"JSON", logging.FormatJSON, false},
		{"", logging.FormatText, false},
		{"logfmt", logging.FormatText, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := logging.ParseFormat(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: logging.FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.With("component", "machine").Info("cpu online", "cpu", 3)
	output := buf.String()

	assert.True(t, strings.HasPrefix(output, "{"))
	assert.Contains(t, output, `"msg":"cpu online"`)
	assert.Contains(t, output, `"component":"machine"`)
	assert.Contains(t, output, `"cpu":3`)
}
