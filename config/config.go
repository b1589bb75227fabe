// Package config handles ipipe daemon configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with config file values (if file exists)
//  3. CLI flags and environment variables override at runtime (handled by CLI layer)
//
// The TOML decoder only sets fields present in the file, leaving
// unspecified fields at their default values. If the config file
// exists but is invalid, Load returns an error rather than silently
// falling back to defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/frobware/go-ipipe"
)

//go:embed default.toml
var defaultConfigTOML string

const (
	// DefaultConfigPath is the default path to the ipipe config file.
	DefaultConfigPath = "/etc/ipipe/ipipe.toml"
)

// Config is the top-level ipipe configuration.
type Config struct {
	Pipeline PipelineConfig `toml:"pipeline"`
	Trace    TraceConfig    `toml:"trace"`
	Logging  LoggingConfig  `toml:"logging"`
	Domains  []DomainConfig `toml:"domains"`
}

// PipelineConfig sizes the simulated machine and the pipeline.
type PipelineConfig struct {
	// CPUs is the number of CPUs; zero means the CPUs this process
	// may run on.
	CPUs        int    `toml:"cpus"`
	CPUFreqHz   uint64 `toml:"cpu_freq_hz"`
	TimerIRQ    uint32 `toml:"timer_irq"`
	TimerFreqHz uint64 `toml:"timer_freq_hz"`
	ClockFreqHz uint64 `toml:"clock_freq_hz"`
	// Debug enables hot path logging and fixable fault warnings.
	Debug bool `toml:"debug"`
}

// TraceConfig controls the hot path recorder.
type TraceConfig struct {
	Enabled bool `toml:"enabled"`
	// Depth is the number of points kept per CPU.
	Depth int `toml:"depth"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,dispatch=debug").
	Level string `toml:"level"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format"`
	// Components provides an alternative way to specify per-component levels.
	Components map[string]string `toml:"components"`
}

// DomainConfig declares a domain the daemon registers at startup.
type DomainConfig struct {
	Name     string `toml:"name"`
	Priority int    `toml:"priority"`
	// IRQs the domain virtualizes.
	IRQs []uint32 `toml:"irqs"`
	// Mode is the control mode of those IRQs, e.g. "handle|pass".
	Mode string `toml:"mode"`
	// ABI is an optional semver constraint on the pipeline version.
	ABI string `toml:"abi"`
}

// ControlMode parses Mode. An empty mode means handle and pass.
func (d *DomainConfig) ControlMode() (ipipe.ControlFlags, error) {
	if strings.TrimSpace(d.Mode) == "" {
		return ipipe.DefaultMask, nil
	}
	return ipipe.ParseControlFlags(d.Mode)
}

// ToSpec converts the LoggingConfig to a log spec string.
// If Level is set, it takes precedence. Otherwise, Components are used.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}
	if len(c.Components) == 0 {
		return ""
	}

	components := make([]string, 0, len(c.Components))
	for component := range c.Components {
		components = append(components, component)
	}
	sort.Strings(components)

	parts := make([]string, 0, len(c.Components)+1)
	parts = append(parts, "info")
	for _, component := range components {
		parts = append(parts, component+"="+c.Components[component])
	}
	return strings.Join(parts, ",")
}

// DefaultConfig returns the default configuration from the embedded default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is embedded at build time; fall back to a
		// minimal configuration should it ever fail to parse.
		return Config{
			Pipeline: PipelineConfig{CPUFreqHz: 1e9, TimerFreqHz: 1000, ClockFreqHz: 1e9},
			Trace:    TraceConfig{Enabled: true, Depth: 1024},
			Logging:  LoggingConfig{Level: "info", Format: "text"},
		}
	}
	return cfg
}

// Load reads configuration from a file path with overlay semantics.
//
// Behaviour:
//   - File missing: returns default configuration (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns error (fail fast)
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.CPUs < 0 || c.Pipeline.CPUs > ipipe.MaxCPUs {
		errs = append(errs, fmt.Errorf("pipeline.cpus must be in [0, %d], got %d", ipipe.MaxCPUs, c.Pipeline.CPUs))
	}
	if c.Pipeline.TimerFreqHz == 0 {
		errs = append(errs, errors.New("pipeline.timer_freq_hz must be positive"))
	}
	if irq := ipipe.IRQ(c.Pipeline.TimerIRQ); !irq.Valid() || irq.Virtual() || irq.System() {
		errs = append(errs, fmt.Errorf("pipeline.timer_irq %d is not a device line", c.Pipeline.TimerIRQ))
	}
	if c.Trace.Depth < 0 {
		errs = append(errs, fmt.Errorf("trace.depth must not be negative, got %d", c.Trace.Depth))
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	seen := make(map[string]bool)
	for i := range c.Domains {
		d := &c.Domains[i]
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("domains[%d]: name must not be empty", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Errorf("domains[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
		if _, err := d.ControlMode(); err != nil {
			errs = append(errs, fmt.Errorf("domains[%d] %s: %w", i, d.Name, err))
		}
		for _, irq := range d.IRQs {
			if !ipipe.IRQ(irq).Valid() {
				errs = append(errs, fmt.Errorf("domains[%d] %s: invalid irq %d", i, d.Name, irq))
			}
		}
	}
	return errors.Join(errs...)
}
