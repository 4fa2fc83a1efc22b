package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/syntrixbase/livefeed/internal/server/ratelimit"
)

// Config holds the listener settings of the HTTP and gRPC servers.
type Config struct {
	Host string `yaml:"host"`

	HTTPPort         int           `yaml:"http_port"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `yaml:"http_idle_timeout"`

	// AllowedOrigins lists the browser origins trusted for CORS and for the
	// WebSocket handshake. "*" trusts every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	EnableCORS       bool     `yaml:"enable_cors"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	CORSMaxAge       int      `yaml:"cors_max_age"`

	// MetricsPath serves the Prometheus registry. Empty disables it.
	MetricsPath string `yaml:"metrics_path"`

	// StreamLimit throttles stream openings per client. Other routes are
	// not limited.
	StreamLimit ratelimit.Config `yaml:"stream_limit"`

	GRPCPort          int  `yaml:"grpc_port"`
	GRPCMaxConcurrent uint `yaml:"grpc_max_concurrent"`
	EnableReflection  bool `yaml:"enable_reflection"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns defaults for a local deployment.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		HTTPPort:          8080,
		HTTPReadTimeout:   10 * time.Second,
		HTTPWriteTimeout:  10 * time.Second,
		HTTPIdleTimeout:   60 * time.Second,
		AllowedMethods:    []string{"GET", "OPTIONS"},
		AllowedHeaders:    []string{"Authorization", "Last-Event-ID", "X-Request-ID"},
		CORSMaxAge:        3600,
		MetricsPath:       "/metrics",
		StreamLimit:       ratelimit.DefaultConfig(),
		GRPCPort:          9000,
		GRPCMaxConcurrent: 100,
		ShutdownTimeout:   10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaults.HTTPPort
	}
	if c.HTTPReadTimeout == 0 {
		c.HTTPReadTimeout = defaults.HTTPReadTimeout
	}
	if c.HTTPWriteTimeout == 0 {
		c.HTTPWriteTimeout = defaults.HTTPWriteTimeout
	}
	if c.HTTPIdleTimeout == 0 {
		c.HTTPIdleTimeout = defaults.HTTPIdleTimeout
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = defaults.AllowedMethods
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = defaults.AllowedHeaders
	}
	if c.CORSMaxAge == 0 {
		c.CORSMaxAge = defaults.CORSMaxAge
	}
	if c.StreamLimit.Burst == 0 {
		c.StreamLimit.Burst = defaults.StreamLimit.Burst
	}
	if c.StreamLimit.Window == 0 {
		c.StreamLimit.Window = defaults.StreamLimit.Window
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = defaults.GRPCPort
	}
	if c.GRPCMaxConcurrent == 0 {
		c.GRPCMaxConcurrent = defaults.GRPCMaxConcurrent
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEFEED_HOST"); val != "" {
		c.Host = val
	}
	if val := os.Getenv("LIVEFEED_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.HTTPPort = port
		}
	}
	if val := os.Getenv("LIVEFEED_GRPC_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.GRPCPort = port
		}
	}
	if val := os.Getenv("LIVEFEED_ALLOWED_ORIGINS"); val != "" {
		c.AllowedOrigins = strings.Split(val, ",")
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in server config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port out of range: %d", c.GRPCPort)
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("server.http_port and server.grpc_port must differ")
	}
	if c.StreamLimit.Enabled && (c.StreamLimit.Burst <= 0 || c.StreamLimit.Window <= 0) {
		return fmt.Errorf("server.stream_limit requires a positive burst and window")
	}
	return nil
}
