// Package config loads, validates, and watches deployment files: the
// declarative description of one pipeline graph plus the runtime
// settings of the process hosting it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
)

// Duration wraps time.Duration so deployment files can use "500ms"
// style strings.
type Duration time.Duration

// UnmarshalYAML parses a duration string or a bare nanosecond integer.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RuntimeConfig tunes the pipeline task hosting the graph.
type RuntimeConfig struct {
	TickInterval Duration      `yaml:"tick_interval"`
	InboxSize    int           `yaml:"inbox_size" validate:"gte=0"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the delivery-failure detector.
type BreakerConfig struct {
	MaxFailures    int      `yaml:"max_failures" validate:"gte=0"`
	Timeout        Duration `yaml:"timeout"`
	HalfOpenProbes int      `yaml:"half_open_probes" validate:"gte=0"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig wires the process to its observability backends.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// Config is one deployment file.
type Config struct {
	Pipeline  pipeline.Spec   `yaml:"pipeline" validate:"required"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

var validate = validator.New()

// Load reads and validates a deployment file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- file path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates deployment file bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing deployment file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints. Graph-level validation
// (reachability, cycles, port references) happens later in the builder.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("deployment validation failed: %w", err)
	}
	for _, spec := range c.Pipeline.Operators {
		if _, known := operatorKinds[spec.Kind]; !known {
			return fmt.Errorf("operator %q: unknown kind %q", spec.ID, spec.Kind)
		}
	}
	return nil
}
