package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
server:
  host: 0.0.0.0
  port: 8080
  request_timeout_ms: 15000

services:
  - name: users
    endpoint: users:50051
    auto_discover: true
    circuit_breaker:
      failure_threshold: 3
      success_threshold: 1
      timeout_ms: 10000
  - name: orders
    endpoint: orders:50051
    timeout_ms: 5000
    connection_pool_size: 8

discovery:
  enabled: true
  refresh_interval_seconds: 60

auth:
  service_endpoint: auth:50051

rate_limit:
  enabled: true
  requests_per_minute: 300

route_overrides:
  - http_method: POST
    http_path: /api/login
    backend: users
    grpc_method: shop.v1.AuthService/Login
    mode: add

trusted_proxies:
  - 10.0.0.1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
	if cfg.Server.RequestTimeout() != 15*time.Second {
		t.Errorf("RequestTimeout() = %v", cfg.Server.RequestTimeout())
	}

	users := cfg.Service("users")
	if users == nil {
		t.Fatal("Service(users) = nil")
	}
	if users.TimeoutMs != DefaultServiceTimeoutMs {
		t.Errorf("users timeout = %d, want default", users.TimeoutMs)
	}
	if users.ConnectionPoolSize != DefaultPoolSize {
		t.Errorf("users pool size = %d, want default", users.ConnectionPoolSize)
	}

	orders := cfg.Service("orders")
	if orders.Timeout() != 5*time.Second || orders.ConnectionPoolSize != 8 {
		t.Errorf("orders config = %+v, want explicit values kept", orders)
	}

	if cfg.Discovery.RefreshInterval() != time.Minute {
		t.Errorf("RefreshInterval() = %v", cfg.Discovery.RefreshInterval())
	}
	if cfg.Limits.DefaultBodyLimit != DefaultBodyLimit {
		t.Errorf("default body limit = %d", cfg.Limits.DefaultBodyLimit)
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Errorf("Window() = %v", cfg.RateLimit.Window())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() succeeded on missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_REQUEST_BODY_SIZE", "2048")
	t.Setenv("MAX_UPLOAD_BODY_SIZE", "4096")
	t.Setenv("UPLOAD_PATHS", "/api/files, /api/images")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Limits.DefaultBodyLimit != 2048 || cfg.Limits.UploadBodyLimit != 4096 {
		t.Errorf("limits = %+v, want env values", cfg.Limits)
	}
	if len(cfg.Limits.UploadPaths) != 2 || cfg.Limits.UploadPaths[1] != "/api/images" {
		t.Errorf("upload paths = %v", cfg.Limits.UploadPaths)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080},
			Services: []ServiceConfig{
				{Name: "users", Endpoint: "users:50051"},
			},
			Auth: AuthConfig{ServiceEndpoint: "auth:50051"},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unnamed service", func(c *Config) { c.Services[0].Name = "" }},
		{"duplicate service", func(c *Config) {
			c.Services = append(c.Services, ServiceConfig{Name: "users", Endpoint: "x:1"})
		}},
		{"missing endpoint", func(c *Config) { c.Services[0].Endpoint = "" }},
		{"bad override mode", func(c *Config) {
			c.RouteOverrides = []RouteOverride{{HTTPMethod: "GET", HTTPPath: "/x", Backend: "users", GRPCMethod: "a.B/C", Mode: "merge"}}
		}},
		{"override unknown backend", func(c *Config) {
			c.RouteOverrides = []RouteOverride{{HTTPMethod: "GET", HTTPPath: "/x", Backend: "ghost", GRPCMethod: "a.B/C", Mode: OverrideAdd}}
		}},
		{"override bad grpc method", func(c *Config) {
			c.RouteOverrides = []RouteOverride{{HTTPMethod: "GET", HTTPPath: "/x", Backend: "users", GRPCMethod: "NoSlash", Mode: OverrideAdd}}
		}},
		{"missing auth endpoint", func(c *Config) { c.Auth.ServiceEndpoint = "" }},
	}

	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tc.name)
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
