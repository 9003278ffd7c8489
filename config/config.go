// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Default values applied when the configuration omits a setting.
const (
	DefaultRequestTimeoutMs  = 30_000
	DefaultServiceTimeoutMs  = 10_000
	DefaultPoolSize          = 4
	DefaultRefreshInterval   = 300
	DefaultRequestsPerMinute = 120
	DefaultWindowSeconds     = 60
	DefaultBodyLimit         = 1 << 20  // 1 MiB
	DefaultUploadBodyLimit   = 32 << 20 // 32 MiB
	DefaultShutdownTimeoutMs = 5_000
)

// Config is the complete gateway configuration.
type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Services       []ServiceConfig `yaml:"services"`
	Discovery      DiscoveryConfig `yaml:"discovery"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	CORS           CORSConfig      `yaml:"cors"`
	RouteOverrides []RouteOverride `yaml:"route_overrides"`
	TrustedProxies []string        `yaml:"trusted_proxies"`
	Logging        LoggingConfig   `yaml:"logging"`
	Tracing        TracingConfig   `yaml:"tracing"`
	Limits         LimitsConfig    `yaml:"limits"`
	Shutdown       ShutdownConfig  `yaml:"shutdown"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RequestTimeout returns the per-request deadline.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// ServiceConfig describes one backend gRPC service.
type ServiceConfig struct {
	Name               string                `yaml:"name"`
	Endpoint           string                `yaml:"endpoint"`
	TimeoutMs          int                   `yaml:"timeout_ms"`
	ConnectionPoolSize int                   `yaml:"connection_pool_size"`
	AutoDiscover       bool                  `yaml:"auto_discover"`
	TLS                TLSConfig             `yaml:"tls"`
	CircuitBreaker     *CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Timeout returns the per-call gRPC deadline for this backend.
func (s ServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TLSConfig configures TLS towards a backend. Disabled means plaintext.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CircuitBreakerConfig configures a per-backend circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	TimeoutMs        int `yaml:"timeout_ms"`
}

// Timeout returns how long the breaker stays open before probing.
func (c CircuitBreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DiscoveryConfig controls the reflection sweep.
type DiscoveryConfig struct {
	Enabled                bool `yaml:"enabled"`
	RefreshIntervalSeconds int  `yaml:"refresh_interval_seconds"`
}

// RefreshInterval returns the interval between refresh sweeps.
func (d DiscoveryConfig) RefreshInterval() time.Duration {
	return time.Duration(d.RefreshIntervalSeconds) * time.Second
}

// AuthConfig locates the external auth backend.
type AuthConfig struct {
	ServiceEndpoint string `yaml:"service_endpoint"`
	TimeoutMs       int    `yaml:"timeout_ms"`
}

// Timeout returns the auth backend call deadline.
func (a AuthConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	WindowSeconds     int  `yaml:"window_seconds"`
}

// Window returns the limiter window duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// CORSConfig is consumed by the external CORS layer.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// OverrideMode selects how a route override merges with discovered routes.
type OverrideMode string

const (
	OverrideReplace OverrideMode = "replace"
	OverrideAdd     OverrideMode = "add"
)

// RouteOverride pins an HTTP route to a backend gRPC method, either replacing
// a discovered route or adding alongside them.
type RouteOverride struct {
	HTTPMethod string       `yaml:"http_method"`
	HTTPPath   string       `yaml:"http_path"`
	Backend    string       `yaml:"backend"`
	GRPCMethod string       `yaml:"grpc_method"`
	Mode       OverrideMode `yaml:"mode"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// LimitsConfig bounds request body sizes. Env vars MAX_REQUEST_BODY_SIZE,
// MAX_UPLOAD_BODY_SIZE and UPLOAD_PATHS override the file values.
type LimitsConfig struct {
	DefaultBodyLimit int64    `yaml:"default_body_limit"`
	UploadBodyLimit  int64    `yaml:"upload_body_limit"`
	UploadPaths      []string `yaml:"upload_paths"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// Timeout returns the graceful shutdown window.
func (s ShutdownConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Load reads, defaults, env-overrides and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeoutMs == 0 {
		c.Server.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	for i := range c.Services {
		if c.Services[i].TimeoutMs == 0 {
			c.Services[i].TimeoutMs = DefaultServiceTimeoutMs
		}
		if c.Services[i].ConnectionPoolSize == 0 {
			c.Services[i].ConnectionPoolSize = DefaultPoolSize
		}
	}
	if c.Discovery.RefreshIntervalSeconds == 0 {
		c.Discovery.RefreshIntervalSeconds = DefaultRefreshInterval
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = DefaultWindowSeconds
	}
	if c.Auth.TimeoutMs == 0 {
		c.Auth.TimeoutMs = DefaultServiceTimeoutMs
	}
	if c.Limits.DefaultBodyLimit == 0 {
		c.Limits.DefaultBodyLimit = DefaultBodyLimit
	}
	if c.Limits.UploadBodyLimit == 0 {
		c.Limits.UploadBodyLimit = DefaultUploadBodyLimit
	}
	if c.Shutdown.TimeoutMs == 0 {
		c.Shutdown.TimeoutMs = DefaultShutdownTimeoutMs
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.RouteOverrides {
		if c.RouteOverrides[i].Mode == "" {
			c.RouteOverrides[i].Mode = OverrideReplace
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MAX_REQUEST_BODY_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Limits.DefaultBodyLimit = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BODY_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Limits.UploadBodyLimit = n
		}
	}
	if v := os.Getenv("UPLOAD_PATHS"); v != "" {
		paths := strings.Split(v, ",")
		c.Limits.UploadPaths = c.Limits.UploadPaths[:0]
		for _, p := range paths {
			if p = strings.TrimSpace(p); p != "" {
				c.Limits.UploadPaths = append(c.Limits.UploadPaths, p)
			}
		}
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service with endpoint %q has no name", svc.Endpoint)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
		if svc.Endpoint == "" {
			return fmt.Errorf("service %q has no endpoint", svc.Name)
		}
		if cb := svc.CircuitBreaker; cb != nil {
			if cb.FailureThreshold < 0 || cb.SuccessThreshold < 0 || cb.TimeoutMs < 0 {
				return fmt.Errorf("service %q: negative circuit breaker setting", svc.Name)
			}
		}
	}

	for _, o := range c.RouteOverrides {
		if o.Mode != OverrideReplace && o.Mode != OverrideAdd {
			return fmt.Errorf("route override %s %s: invalid mode %q", o.HTTPMethod, o.HTTPPath, o.Mode)
		}
		if o.HTTPMethod == "" || o.HTTPPath == "" {
			return fmt.Errorf("route override missing http_method or http_path")
		}
		if !seen[o.Backend] {
			return fmt.Errorf("route override %s %s references unknown backend %q", o.HTTPMethod, o.HTTPPath, o.Backend)
		}
		if !strings.Contains(o.GRPCMethod, "/") {
			return fmt.Errorf("route override %s %s: grpc_method %q must be Service/Method", o.HTTPMethod, o.HTTPPath, o.GRPCMethod)
		}
	}

	if c.Auth.ServiceEndpoint == "" {
		return fmt.Errorf("auth.service_endpoint is required")
	}
	return nil
}

// Service returns the configuration for a named backend, or nil.
func (c *Config) Service(name string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}
