package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelgw/kestrel/internal/auth"
	"github.com/kestrelgw/kestrel/internal/gwerrors"
	"github.com/kestrelgw/kestrel/internal/middleware"
)

// statusRecorder captures the written status for request accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records every proxied request, including the ones
// the rate-limit and route-auth stages answer without dispatching.
func (s *Server) metricsMiddleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			s.metrics.RecordRequest(r.URL.Path, r.Method, sr.status, time.Since(start))
		})
	}
}

// rateLimitMiddleware throttles by client IP. The X-Forwarded-For chain
// is consulted only when the direct peer is a trusted proxy.
func (s *Server) rateLimitMiddleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, retryAfter := s.limiter.Allow(s.realIP.ClientIP(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				gwerrors.New(gwerrors.KindRateLimitExceeded, "rate limit exceeded").
					WriteJSON(w, middleware.RequestIDFromContext(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// routeAuthMiddleware resolves the route and enforces its authorization
// policy, attaching both to the request context so the pipeline never
// routes twice.
func (s *Server) routeAuthMiddleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.RequestIDFromContext(r.Context())

			decision, ok := s.table.Route(r.Method, r.URL.Path)
			if !ok {
				gwerrors.New(gwerrors.KindRouteNotFound, "no route for "+r.Method+" "+r.URL.Path).
					WriteJSON(w, requestID)
				return
			}

			backendPool := s.pools.Get(decision.Backend)
			if backendPool == nil {
				gwerrors.New(gwerrors.KindServiceUnavailable, "backend unavailable").
					WriteJSON(w, requestID)
				return
			}

			policy := s.authSvc.GetPolicy(r.Context(), backendPool.Conn(), decision.GRPCMethod)
			token, hasToken := auth.ExtractToken(r.Header)
			res := s.authSvc.CheckAuthorization(r.Context(), token, hasToken, policy)

			switch res.Outcome {
			case auth.OutcomeAllow:
			case auth.OutcomeMissingToken:
				gwerrors.New(gwerrors.KindMissingToken, res.Message).WriteJSON(w, requestID)
				return
			case auth.OutcomeInvalidToken:
				gwerrors.New(gwerrors.KindInvalidToken, res.Message).WriteJSON(w, requestID)
				return
			case auth.OutcomeInsufficientPermissions:
				gwerrors.New(gwerrors.KindInsufficientPermissions, res.Message).WriteJSON(w, requestID)
				return
			default:
				gwerrors.New(gwerrors.KindServiceUnavailable, "auth service unavailable").
					WriteJSON(w, requestID)
				return
			}

			ctx := withDecision(r.Context(), decision)
			if res.Claims != nil {
				ctx = withClaims(ctx, res.Claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
