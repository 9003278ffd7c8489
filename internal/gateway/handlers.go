package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kestrelgw/kestrel/internal/auth"
	"github.com/kestrelgw/kestrel/internal/gwerrors"
	"github.com/kestrelgw/kestrel/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// methodOnly guards a reserved path. Reserved paths never fall through
// to the proxy pipeline, so a wrong method answers 405, not a routing
// miss.
func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
				"error": map[string]string{
					"code":    "METHOD_NOT_ALLOWED",
					"message": "method not allowed",
				},
			})
			return
		}
		h(w, r)
	}
}

// authorizeAdmin gates an admin endpoint on a valid token. Role checks
// are left to the backends' own policies.
func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	requestID := middleware.RequestIDFromContext(r.Context())

	token, hasToken := auth.ExtractToken(r.Header)
	if !hasToken {
		gwerrors.New(gwerrors.KindMissingToken, "authorization required").WriteJSON(w, requestID)
		return false
	}
	if res := s.authSvc.ValidateToken(r.Context(), token); res.Outcome != auth.OutcomeAllow {
		gwerrors.New(gwerrors.KindInvalidToken, res.Message).WriteJSON(w, requestID)
		return false
	}
	return true
}

// handleHealth probes every backend's gRPC health service. A backend
// failing its probe degrades the report but keeps the endpoint at 200;
// readiness, not health, is what load balancers act on.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backends := make(map[string]bool, len(s.cfg.Services))
	status := "healthy"
	for _, name := range s.pools.Backends() {
		ok := s.pools.Get(name).Healthy(r.Context())
		backends[name] = ok
		if !ok {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"routes":         s.table.Len(),
		"backends":       backends,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady answers 503 until the startup discovery sweep finished and
// again once shutdown begins, so load balancers drain early.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleAdminRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}

	type routeInfo struct {
		Method     string `json:"method"`
		Path       string `json:"path"`
		Backend    string `json:"backend"`
		GRPCMethod string `json:"grpc_method"`
	}

	routes := s.table.Routes()
	out := make([]routeInfo, 0, len(routes))
	for _, r := range routes {
		out = append(out, routeInfo{
			Method:     r.Method,
			Path:       r.Path,
			Backend:    r.Backend,
			GRPCMethod: r.GRPCMethod,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": out, "total": len(out)})
}

func (s *Server) handleAdminBreakers(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}

	states := make(map[string]string, len(s.breakers))
	for backend, b := range s.breakers {
		states[backend] = b.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": states})
}

// handleAdminRefresh triggers a discovery sweep.
func (s *Server) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}

	stats := s.disc.Discover(r.Context())
	writeJSON(w, http.StatusOK, stats)
}
