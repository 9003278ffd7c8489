package discovery

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/logging"
	"github.com/kestrelgw/kestrel/internal/router"
)

// ApplyOverrides merges configured route overrides into a discovered
// route set. Replace entries evict any route with the same method and
// path first; Add entries append as-is and rely on dedup for collisions.
func ApplyOverrides(routes []router.Route, overrides []config.RouteOverride) []router.Route {
	for _, ov := range overrides {
		r := router.Route{
			Method:     strings.ToUpper(ov.HTTPMethod),
			Path:       ov.HTTPPath,
			Backend:    ov.Backend,
			GRPCMethod: ov.GRPCMethod,
		}
		if ov.Mode == config.OverrideReplace {
			key := routeKey(r)
			kept := routes[:0]
			for _, existing := range routes {
				if routeKey(existing) != key {
					kept = append(kept, existing)
				}
			}
			routes = kept
		}
		routes = append(routes, r)
	}
	return routes
}

// Dedup drops routes whose (method, path) repeats, keeping the first
// occurrence. Returns the number dropped. Applying it twice changes
// nothing.
func Dedup(routes []router.Route) ([]router.Route, int) {
	seen := make(map[string]bool, len(routes))
	kept := routes[:0]
	dropped := 0
	for _, r := range routes {
		key := routeKey(r)
		if seen[key] {
			dropped++
			logging.Warn("dropping duplicate route",
				zap.String("method", r.Method),
				zap.String("path", r.Path),
				zap.String("backend", r.Backend),
				zap.String("grpc_method", r.GRPCMethod))
			continue
		}
		seen[key] = true
		kept = append(kept, r)
	}
	return kept, dropped
}

func routeKey(r router.Route) string {
	return strings.ToUpper(r.Method) + " " + r.Path
}
