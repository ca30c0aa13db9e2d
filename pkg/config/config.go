// Package config provides configuration loading for relaymux.
//
// Configuration is a single YAML document with sections for the listener,
// the upstream endpoint, worker sharding, metrics and logging. Values of
// the form ${VAR_NAME} are substituted from the environment at load time.
//
// Example usage:
//
//	cfg, err := config.Load("relaymux.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level relaymux configuration.
type Config struct {
	// Listen is the address the downstream acceptor binds to
	Listen string `yaml:"listen" json:"listen"`

	// Workers is the number of worker shards, each owning an independent
	// broadcast pool. 0 means one per CPU.
	Workers int `yaml:"workers" json:"workers"`

	// Upstream configures the shared upstream endpoint
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configures structured logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// UpstreamConfig describes the upstream endpoint broadcasts connect to.
type UpstreamConfig struct {
	// Address of the upstream broadcast source
	Address string `yaml:"address" json:"address"`
	// ConnectTimeout bounds each connect attempt
	ConnectTimeout Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// Duration is a time.Duration that round-trips through YAML as a duration
// string ("30s", "1m"). Bare integers are read as nanoseconds.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:  ":9230",
		Workers: runtime.NumCPU(),
		Upstream: UpstreamConfig{
			ConnectTimeout: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9231",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load loads a configuration from a YAML file, applying defaults for
// omitted fields.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Upstream.Address == "" {
		return fmt.Errorf("upstream address is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.Upstream.ConnectTimeout <= 0 {
		return fmt.Errorf("upstream connect_timeout must be positive, got %v", c.Upstream.ConnectTimeout.Std())
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
