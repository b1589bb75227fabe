package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantBase   Level
		wantComps  map[string]Level
		wantErr    bool
		errContain string
	}{
		{
			name:     "empty string defaults to info",
			input:    "",
			wantBase: LevelInfo,
		},
		{
			name:     "base level only",
			input:    "debug",
			wantBase: LevelDebug,
		},
		{
			name:      "single component override",
			input:     "info,dispatch=debug",
			wantBase:  LevelInfo,
			wantComps: map[string]Level{"dispatch": LevelDebug},
		},
		{
			name:      "multiple component overrides",
			input:     "warn,dispatch=debug,store=trace",
			wantBase:  LevelWarn,
			wantComps: map[string]Level{"dispatch": LevelDebug, "store": LevelTrace},
		},
		{
			name:      "with whitespace",
			input:     "  info , dispatch = debug , store = trace  ",
			wantBase:  LevelInfo,
			wantComps: map[string]Level{"dispatch": LevelDebug, "store": LevelTrace},
		},
		{
			name:      "component only (no base level specified)",
			input:     "dispatch=debug",
			wantBase:  LevelInfo,
			wantComps: map[string]Level{"dispatch": LevelDebug},
		},
		{
			name:       "invalid base level",
			input:      "invalid",
			wantErr:    true,
			errContain: "unknown log level",
		},
		{
			name:       "invalid component level",
			input:      "info,dispatch=invalid",
			wantErr:    true,
			errContain: "invalid level for component",
		},
		{
			name:       "base level not first",
			input:      "dispatch=debug,info",
			wantErr:    true,
			errContain: "must be first",
		},
		{
			name:       "empty component name",
			input:      "info,=debug",
			wantErr:    true,
			errContain: "empty component name",
		},
		{
			name:      "empty parts are skipped",
			input:     "info,,dispatch=debug,",
			wantBase:  LevelInfo,
			wantComps: map[string]Level{"dispatch": LevelDebug},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContain != "" {
					assert.Contains(t, err.Error(), tt.errContain)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, got.BaseLevel)

			if tt.wantComps == nil {
				assert.Empty(t, got.Components)
			} else {
				assert.Equal(t, tt.wantComps, got.Components)
			}
		})
	}
}

func TestSpec_LevelFor(t *testing.T) {
	spec, err := ParseSpec("warn,dispatch=debug,store=trace")
	require.NoError(t, err)

	assert.Equal(t, LevelDebug, spec.LevelFor("dispatch"))
	assert.Equal(t, LevelTrace, spec.LevelFor("store"))
	assert.Equal(t, LevelWarn, spec.LevelFor("ipi"))
	assert.Equal(t, LevelWarn, spec.LevelFor(""))
}

func TestSpec_Min(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"warn", LevelWarn},
		{"warn,fault=debug", LevelDebug},
		{"debug,server=error", LevelDebug},
		{"error,machine=warn,dispatch=trace", LevelTrace},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			spec, err := ParseSpec(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.Min())
			assert.Equal(t, tt.want, NewLevels(spec).Min())
		})
	}
}

func TestSpec_String(t *testing.T) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: map[string]Level{},
	}
	assert.Equal(t, "info", spec.String())

	spec.Components["store"] = LevelTrace
	spec.Components["dispatch"] = LevelDebug
	assert.Equal(t, "info,dispatch=debug,store=trace", spec.String())

	parsed, err := ParseSpec(spec.String())
	require.NoError(t, err)
	assert.Equal(t, spec, parsed)
}

func TestLevels_SetString(t *testing.T) {
	levels := NewLevels(Spec{BaseLevel: LevelWarn})
	assert.Equal(t, LevelWarn, levels.LevelFor("fault"))

	require.NoError(t, levels.SetString("error,fault=trace"))
	assert.Equal(t, LevelTrace, levels.LevelFor("fault"))
	assert.Equal(t, LevelError, levels.LevelFor("dispatch"))

	err := levels.SetString("fault=bogus")
	require.Error(t, err)
	spec := levels.Spec()
	assert.Equal(t, "error,fault=trace", spec.String(), "a bad spec leaves the levels alone")
}
