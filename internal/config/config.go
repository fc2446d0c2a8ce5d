// Package config loads qpbridge settings from a file, QPBRIDGE_* environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/cwbudde/qpbridge/internal/backends"
	"github.com/cwbudde/qpbridge/internal/logging"
	"github.com/cwbudde/qpbridge/internal/options"
)

// EnvPrefix prefixes every environment variable, e.g. QPBRIDGE_DATA_DIR.
const EnvPrefix = "QPBRIDGE"

// Config is the process configuration.
type Config struct {
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file"`

	// Defaults is the global option scope: backend → option → value.
	Defaults map[string]map[string]any `mapstructure:"defaults" yaml:"defaults"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("backend", "osqp")
	v.SetDefault("concurrency", 4)
	v.SetDefault("metrics_file", "")
}

// Load reads path (optional) into v, overlays the environment and returns the
// validated configuration. Flags must already be bound to v.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if !slices.Contains(backends.Supported(), backends.NormalizeBackend(c.Backend)) {
		errs = append(errs, fmt.Errorf("%w: %s", backends.ErrUnknownBackend, c.Backend))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	return errors.Join(errs...)
}

// DefaultOptions returns Defaults as the global option scope.
func (c *Config) DefaultOptions() options.Set {
	var s options.Set
	for backend, opts := range c.Defaults {
		id := backends.NormalizeBackend(backend)
		for name, value := range opts {
			s.Put(id, name, value)
		}
	}
	return s
}
