// Package auth validates bearer tokens against the external auth backend
// and resolves per-method authorization policies advertised by backends.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kestrelgw/kestrel/internal/gatewaypb"
	"github.com/kestrelgw/kestrel/internal/invoker"
	"github.com/kestrelgw/kestrel/internal/logging"
)

// Outcome is the result category of an authorization check.
type Outcome int

const (
	// OutcomeAllow admits the request.
	OutcomeAllow Outcome = iota
	// OutcomeMissingToken: the policy requires auth and no token came.
	OutcomeMissingToken
	// OutcomeInvalidToken: the auth backend rejected the token.
	OutcomeInvalidToken
	// OutcomeInsufficientPermissions: valid token, wrong roles.
	OutcomeInsufficientPermissions
	// OutcomeServiceError: the auth backend was unreachable.
	OutcomeServiceError
)

// Claims carries the identity attached to an allowed request.
type Claims struct {
	UserID string
	Roles  []string
}

// Result is the outcome of token validation plus claims when allowed.
type Result struct {
	Outcome Outcome
	Claims  *Claims
	Message string
}

// Service talks to the external token validator over one long-lived
// channel and resolves method policies against backend channels.
type Service struct {
	authConn      grpc.ClientConnInterface
	validator     *invoker.Invoker
	policyInvoker *invoker.Invoker
	cache         *policyCache
	timeout       time.Duration
}

// Option configures the auth service.
type Option func(*Service)

// WithCacheObservers registers policy cache hit/miss callbacks for
// metrics.
func WithCacheObservers(onHit, onMiss func()) Option {
	return func(s *Service) {
		s.cache.onHit, s.cache.onMiss = onHit, onMiss
	}
}

// WithCallTimeout bounds every validator and policy backend call. Zero
// leaves calls on the caller's deadline alone.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New wires the auth service. authConn is the channel to the external
// auth backend.
func New(authConn grpc.ClientConnInterface, opts ...Option) (*Service, error) {
	vpool, err := gatewaypb.ValidatorPool()
	if err != nil {
		return nil, err
	}
	ppool, err := gatewaypb.PolicyPool()
	if err != nil {
		return nil, err
	}
	s := &Service{
		authConn:      authConn,
		validator:     invoker.New(vpool),
		policyInvoker: invoker.New(ppool),
		cache:         newPolicyCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// callContext applies the configured backend call deadline so a hung
// auth or policy backend cannot stall the request.
func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ExtractToken pulls the bearer token from request headers. A Bearer
// prefix is stripped case-insensitively; any other authorization value is
// returned whole. The second return is false when no header is present.
func ExtractToken(h http.Header) (string, bool) {
	raw := h.Get("Authorization")
	if raw == "" {
		return "", false
	}
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "Bearer ") {
		return strings.TrimSpace(raw[7:]), true
	}
	return raw, true
}

// validateResponse mirrors kestrel.auth.v1.ValidateResponse.
type validateResponse struct {
	Valid  bool     `json:"valid"`
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Error  string   `json:"error"`
}

// ValidateToken calls the auth backend. Transport failure is a
// ServiceError; a valid=false answer is a normal invalid-token outcome.
func (s *Service) ValidateToken(ctx context.Context, token string) Result {
	payload, _ := json.Marshal(map[string]string{"token": token})

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	out, err := s.validator.Invoke(ctx, s.authConn, gatewaypb.ValidateMethod, payload, nil)
	if err != nil {
		logging.Error("token validation call failed", zap.Error(err))
		return Result{Outcome: OutcomeServiceError, Message: "auth service unavailable"}
	}

	var resp validateResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		logging.Error("token validation response unreadable", zap.Error(err))
		return Result{Outcome: OutcomeServiceError, Message: "auth service unavailable"}
	}

	if !resp.Valid {
		msg := resp.Error
		if msg == "" {
			msg = "invalid token"
		}
		return Result{Outcome: OutcomeInvalidToken, Message: msg}
	}
	return Result{
		Outcome: OutcomeAllow,
		Claims:  &Claims{UserID: resp.UserID, Roles: resp.Roles},
	}
}

// CheckAuthorization applies a resolved policy to an optional token.
func (s *Service) CheckAuthorization(ctx context.Context, token string, hasToken bool, policy Policy) Result {
	if !policy.RequireAuth {
		return Result{Outcome: OutcomeAllow}
	}
	if !hasToken {
		return Result{Outcome: OutcomeMissingToken, Message: "authorization required"}
	}

	res := s.ValidateToken(ctx, token)
	if res.Outcome != OutcomeAllow {
		return res
	}

	if len(policy.RequiredRoles) > 0 && !rolesIntersect(policy.RequiredRoles, res.Claims.Roles) {
		return Result{Outcome: OutcomeInsufficientPermissions, Message: "insufficient permissions"}
	}
	return res
}

func rolesIntersect(required, held []string) bool {
	for _, r := range required {
		for _, h := range held {
			if r == h {
				return true
			}
		}
	}
	return false
}
