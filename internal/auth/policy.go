package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kestrelgw/kestrel/internal/gatewaypb"
	"github.com/kestrelgw/kestrel/internal/logging"
)

const (
	// DefaultPolicyTTL applies when a backend omits cache_ttl_seconds.
	DefaultPolicyTTL = 5 * time.Minute

	// failSecureTTL bounds how long a synthesized auth-required policy is
	// honored after a policy lookup failure. It is never cached.
	failSecureTTL = 10 * time.Second
)

// Policy is one method's authorization requirement.
type Policy struct {
	RequireAuth   bool
	RequiredRoles []string
	TTL           time.Duration
}

type cachedPolicy struct {
	policy   Policy
	cachedAt time.Time
}

type policyCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPolicy
	now     func() time.Time
	onHit   func()
	onMiss  func()
}

func newPolicyCache() *policyCache {
	return &policyCache{
		entries: make(map[string]cachedPolicy),
		now:     time.Now,
	}
}

func (c *policyCache) get(key string) (Policy, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.cachedAt) < entry.policy.TTL {
		if c.onHit != nil {
			c.onHit()
		}
		return entry.policy, true
	}
	if c.onMiss != nil {
		c.onMiss()
	}
	return Policy{}, false
}

func (c *policyCache) put(key string, p Policy) {
	c.mu.Lock()
	c.entries[key] = cachedPolicy{policy: p, cachedAt: c.now()}
	c.mu.Unlock()
}

// policyResponse mirrors kestrel.gateway.v1.PolicyResponse.
type policyResponse struct {
	RequireAuth   bool     `json:"require_auth"`
	RequiredRoles []string `json:"required_roles"`
	CacheTTL      int      `json:"cache_ttl_seconds"`
}

// GetPolicy resolves the policy for a gRPC method, consulting the cache
// first. backendConn is a channel to the backend that owns the method.
// Lookup failure fails secure: auth required, no roles satisfiable by
// configuration, short TTL, not cached.
func (s *Service) GetPolicy(ctx context.Context, backendConn grpc.ClientConnInterface, grpcMethod string) Policy {
	if p, ok := s.cache.get(grpcMethod); ok {
		return p
	}

	payload, _ := json.Marshal(map[string]string{"grpc_method": grpcMethod})
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	out, err := s.policyInvoker.Invoke(ctx, backendConn, gatewaypb.GetPolicyMethod, payload, nil)
	if err != nil {
		logging.Warn("policy lookup failed, failing secure",
			zap.String("grpc_method", grpcMethod), zap.Error(err))
		return Policy{RequireAuth: true, TTL: failSecureTTL}
	}

	var resp policyResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		logging.Warn("policy response unreadable, failing secure",
			zap.String("grpc_method", grpcMethod), zap.Error(err))
		return Policy{RequireAuth: true, TTL: failSecureTTL}
	}

	ttl := DefaultPolicyTTL
	if resp.CacheTTL > 0 {
		ttl = time.Duration(resp.CacheTTL) * time.Second
	}
	policy := Policy{
		RequireAuth:   resp.RequireAuth,
		RequiredRoles: resp.RequiredRoles,
		TTL:           ttl,
	}
	s.cache.put(grpcMethod, policy)
	return policy
}
