package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/auth"
	"github.com/kestrelgw/kestrel/internal/circuitbreaker"
	"github.com/kestrelgw/kestrel/internal/router"
)

// tokenConn answers validator calls with a fixed verdict.
type tokenConn struct{ valid bool }

func (c tokenConn) Invoke(_ context.Context, _ string, _, reply any, _ ...grpc.CallOption) error {
	msg := reply.(*dynamicpb.Message)
	msg.Set(msg.Descriptor().Fields().ByName("valid"), protoreflect.ValueOfBool(c.valid))
	return nil
}

func (tokenConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

func newAuthService(t *testing.T, conn grpc.ClientConnInterface) *auth.Service {
	t.Helper()
	svc, err := auth.New(conn)
	if err != nil {
		t.Fatalf("auth.New() error: %v", err)
	}
	return svc
}

func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func baseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0, RequestTimeoutMs: 1000},
		Auth:     config.AuthConfig{ServiceEndpoint: "localhost:1", TimeoutMs: 1000},
		Shutdown: config.ShutdownConfig{TimeoutMs: 1000},
	}
}

func TestRunInstallsOverridesWhenDiscoveryDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Services = []config.ServiceConfig{{Name: "legacy", Endpoint: "localhost:1"}}
	cfg.RouteOverrides = []config.RouteOverride{{
		HTTPMethod: "POST",
		HTTPPath:   "/api/users",
		Backend:    "legacy",
		GRPCMethod: "legacy.Users/Create",
		Mode:       config.OverrideReplace,
	}}

	s := testServer(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.table.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := s.table.Route("POST", "/api/users"); !ok {
		t.Fatal("override route not installed with discovery disabled")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestReservedPathsRejectWrongMethod(t *testing.T) {
	h := testServer(t, baseConfig()).Handler()

	cases := []struct{ method, path, allow string }{
		{"POST", "/health", "GET"},
		{"DELETE", "/metrics", "GET"},
		{"PUT", "/health/ready", "GET"},
		{"GET", "/admin/refresh-routes", "POST"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tc.method, tc.path, w.Code)
		}
		if got := w.Header().Get("Allow"); got != tc.allow {
			t.Errorf("%s %s Allow = %q, want %q", tc.method, tc.path, got, tc.allow)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health/live = %d, want 200", w.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	s := &Server{
		table:    router.New(),
		breakers: map[string]*circuitbreaker.Breaker{},
		authSvc:  newAuthService(t, tokenConn{valid: true}),
	}

	handlers := map[string]http.HandlerFunc{
		"/admin/routes":   s.handleAdminRoutes,
		"/admin/breakers": s.handleAdminBreakers,
	}
	for path, h := range handlers {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, w.Code)
		}

		w = httptest.NewRecorder()
		r := httptest.NewRequest("GET", path, nil)
		r.Header.Set("Authorization", "Bearer tok")
		h(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("%s with valid token = %d, want 200", path, w.Code)
		}
	}
}

func TestAdminEndpointsRejectInvalidToken(t *testing.T) {
	s := &Server{
		table:   router.New(),
		authSvc: newAuthService(t, tokenConn{valid: false}),
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/admin/routes", nil)
	r.Header.Set("Authorization", "Bearer bad")
	s.handleAdminRoutes(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("invalid token = %d, want 403", w.Code)
	}
}
