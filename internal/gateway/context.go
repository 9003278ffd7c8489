package gateway

import (
	"context"

	"github.com/kestrelgw/kestrel/internal/auth"
	"github.com/kestrelgw/kestrel/internal/router"
)

type contextKey int

const (
	decisionKey contextKey = iota
	claimsKey
)

// withDecision attaches the routing decision resolved by the auth
// middleware so the pipeline never routes twice.
func withDecision(ctx context.Context, d router.Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

func decisionFromContext(ctx context.Context) (router.Decision, bool) {
	d, ok := ctx.Value(decisionKey).(router.Decision)
	return d, ok
}

func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}
