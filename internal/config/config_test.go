package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/qpbridge/internal/backends"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qpbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "osqp", cfg.Backend)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Empty(t, cfg.DefaultOptions())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
log_level: debug
backend: heuristic
concurrency: 2
defaults:
  osqp:
    max_iter: 500
    polish: false
  admm:
    eps_abs: 1.0e-7
`)
	t.Setenv("QPBRIDGE_CONCURRENCY", "8")
	t.Setenv("QPBRIDGE_DATA_DIR", "/tmp/qp")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "heuristic", cfg.Backend)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "/tmp/qp", cfg.DataDir)

	opts := cfg.DefaultOptions().For("osqp")
	assert.Equal(t, 500, opts["max_iter"])
	assert.Equal(t, false, opts["polish"])
	assert.Equal(t, 1e-7, opts["eps_abs"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"backend", func(c *Config) { c.Backend = "gurobi" }, "unknown solver backend"},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{LogLevel: "info", LogFormat: "json", DataDir: "d", Backend: "osqp", Concurrency: 1}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	err := (&Config{LogLevel: "info", LogFormat: "json", DataDir: "d", Backend: "x", Concurrency: 1}).Validate()
	assert.ErrorIs(t, err, backends.ErrUnknownBackend)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
