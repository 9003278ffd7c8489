// Package discovery builds the routing table by sweeping backends over
// gRPC server reflection and merging configured overrides.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/convention"
	"github.com/kestrelgw/kestrel/internal/descriptor"
	"github.com/kestrelgw/kestrel/internal/logging"
	"github.com/kestrelgw/kestrel/internal/reflection"
	"github.com/kestrelgw/kestrel/internal/router"
)

// FailureKind classifies why discovery failed for one backend.
type FailureKind string

const (
	// FailureNone marks a successful sweep.
	FailureNone FailureKind = ""
	// FailureReflectionNotSupported: the backend answered UNIMPLEMENTED.
	FailureReflectionNotSupported FailureKind = "reflection_not_supported"
	// FailureEmptyService: the backend is up but advertises no services.
	FailureEmptyService FailureKind = "empty_service"
	// FailureQueryFailed: a reflection query failed mid-sweep.
	FailureQueryFailed FailureKind = "query_failed"
	// FailureConnectionFailed: no usable channel to the backend.
	FailureConnectionFailed FailureKind = "connection_failed"
	// FailureDuplicateRoute: two methods mapped to the same route.
	FailureDuplicateRoute FailureKind = "duplicate_route"
)

// ChannelSource hands out a connection for a named backend.
type ChannelSource interface {
	Conn(backend string) (grpc.ClientConnInterface, error)
}

// Reflector is the reflection surface discovery depends on.
type Reflector interface {
	ListServices(ctx context.Context) ([]string, error)
	FileContainingSymbol(ctx context.Context, symbol string) ([]*descriptorpb.FileDescriptorProto, error)
}

// Observer receives sweep telemetry.
type Observer interface {
	RecordSweep()
	RecordError(backend string, kind FailureKind)
	SetRouteCount(n int)
}

type nopObserver struct{}

func (nopObserver) RecordSweep()                    {}
func (nopObserver) RecordError(string, FailureKind) {}
func (nopObserver) SetRouteCount(int)               {}

// Stats summarizes one refresh cycle.
type Stats struct {
	Discovered int `json:"discovered"`
	Retained   int `json:"retained"`
	Dropped    int `json:"dropped"`
	Total      int `json:"total"`
}

// Service orchestrates reflection sweeps and routing table swaps. It also
// keeps the per-backend descriptor pools the invoker resolves against.
type Service struct {
	backends  []config.ServiceConfig
	overrides []config.RouteOverride
	interval  time.Duration
	table     *router.Table
	source    ChannelSource
	obs       Observer

	// newReflector is swappable for tests.
	newReflector func(grpc.ClientConnInterface) Reflector

	mu    sync.RWMutex
	pools map[string]*descriptor.Pool
}

// New creates a discovery service over the configured backends.
func New(cfg *config.Config, table *router.Table, source ChannelSource, obs Observer) *Service {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Service{
		backends:  cfg.Services,
		overrides: cfg.RouteOverrides,
		interval:  cfg.Discovery.RefreshInterval(),
		table:     table,
		source:    source,
		obs:       obs,
		newReflector: func(conn grpc.ClientConnInterface) Reflector {
			return reflection.NewClient(conn)
		},
		pools: make(map[string]*descriptor.Pool),
	}
}

// DescriptorPool returns the descriptor pool for a backend, or nil when
// the backend has not been discovered yet.
func (s *Service) DescriptorPool(backend string) *descriptor.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[backend]
}

// backendSweep is the outcome of discovering one backend.
type backendSweep struct {
	backend string
	routes  []router.Route
	pool    *descriptor.Pool
	kind    FailureKind
	err     error
}

// Discover runs one full sweep and swaps the routing table. Used both at
// startup and by the refresh loop and admin endpoint.
func (s *Service) Discover(ctx context.Context) Stats {
	s.obs.RecordSweep()

	sweeps := s.sweepAll(ctx)

	var stats Stats
	var merged []router.Route
	for _, sw := range sweeps {
		switch sw.kind {
		case FailureNone:
			merged = append(merged, sw.routes...)
			stats.Discovered += len(sw.routes)
			s.mu.Lock()
			s.pools[sw.backend] = sw.pool
			s.mu.Unlock()
		case FailureEmptyService:
			// Backend is reachable but empty: purge its routes.
			s.obs.RecordError(sw.backend, sw.kind)
			logging.Warn("backend advertises no services, purging routes",
				zap.String("backend", sw.backend))
		default:
			// Transient failure: retain what the live table has.
			s.obs.RecordError(sw.backend, sw.kind)
			retained := s.table.RoutesFor(sw.backend)
			merged = append(merged, retained...)
			stats.Retained += len(retained)
			logging.Warn("discovery failed, retaining existing routes",
				zap.String("backend", sw.backend),
				zap.String("kind", string(sw.kind)),
				zap.Int("retained", len(retained)),
				zap.Error(sw.err))
		}
	}

	merged = ApplyOverrides(merged, s.overrides)
	merged, dropped := Dedup(merged)
	stats.Dropped = dropped
	stats.Total = len(merged)

	s.table.Update(merged)
	s.obs.SetRouteCount(len(merged))

	logging.Info("routing table updated",
		zap.Int("routes", stats.Total),
		zap.Int("discovered", stats.Discovered),
		zap.Int("retained", stats.Retained),
		zap.Int("dropped", stats.Dropped))
	return stats
}

// ApplyStatic installs the configured overrides without sweeping any
// backend. Used at startup when discovery is disabled, so static routes
// still reach the table.
func (s *Service) ApplyStatic() Stats {
	merged := ApplyOverrides(nil, s.overrides)
	merged, dropped := Dedup(merged)

	s.table.Update(merged)
	s.obs.SetRouteCount(len(merged))

	logging.Info("routing table updated from overrides",
		zap.Int("routes", len(merged)),
		zap.Int("dropped", dropped))
	return Stats{Dropped: dropped, Total: len(merged)}
}

// sweepAll discovers every auto-discover backend concurrently. Per-backend
// failures are captured in the result, never propagated.
func (s *Service) sweepAll(ctx context.Context) []backendSweep {
	targets := make([]config.ServiceConfig, 0, len(s.backends))
	for _, b := range s.backends {
		if b.AutoDiscover {
			targets = append(targets, b)
		}
	}

	results := make([]backendSweep, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, b := range targets {
		g.Go(func() error {
			results[i] = s.sweepBackend(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) sweepBackend(ctx context.Context, backend config.ServiceConfig) backendSweep {
	sw := backendSweep{backend: backend.Name}

	conn, err := s.source.Conn(backend.Name)
	if err != nil {
		sw.kind, sw.err = FailureConnectionFailed, err
		return sw
	}
	refl := s.newReflector(conn)

	services, err := refl.ListServices(ctx)
	switch {
	case errors.Is(err, reflection.ErrUnimplemented):
		sw.kind, sw.err = FailureReflectionNotSupported, err
		return sw
	case err != nil:
		sw.kind, sw.err = FailureQueryFailed, err
		return sw
	}

	services = filterSystemServices(services)
	if len(services) == 0 {
		sw.kind = FailureEmptyService
		return sw
	}

	seen := map[string]string{}
	fileSet := map[string]*descriptorpb.FileDescriptorProto{}
	var fileOrder []*descriptorpb.FileDescriptorProto

	for _, svc := range services {
		files, err := refl.FileContainingSymbol(ctx, svc)
		if err != nil {
			sw.kind, sw.err = FailureQueryFailed, fmt.Errorf("symbol %s: %w", svc, err)
			return sw
		}
		for _, fd := range files {
			if _, ok := fileSet[fd.GetName()]; !ok {
				fileSet[fd.GetName()] = fd
				fileOrder = append(fileOrder, fd)
			}
		}

		methods, err := reflection.MethodsFromFiles(svc, files)
		if err != nil {
			sw.kind, sw.err = FailureQueryFailed, err
			return sw
		}

		for _, m := range methods {
			mapped, ok := convention.Map(m.Name)
			if !ok {
				continue
			}
			key := mapped.Method + " " + mapped.Path
			if prev, dup := seen[key]; dup {
				sw.kind = FailureDuplicateRoute
				sw.err = fmt.Errorf("%s and %s both map to %s", prev, m.FullName, key)
				return sw
			}
			seen[key] = m.FullName
			sw.routes = append(sw.routes, router.Route{
				Method:     mapped.Method,
				Path:       mapped.Path,
				Backend:    backend.Name,
				GRPCMethod: m.FullName,
			})
		}
	}

	pool, err := descriptor.Build(services[0], fileOrder)
	if err != nil {
		sw.kind, sw.err = FailureQueryFailed, err
		return sw
	}
	sw.pool = pool
	return sw
}

// filterSystemServices drops infrastructure services that must never
// become routes.
func filterSystemServices(services []string) []string {
	out := services[:0]
	for _, svc := range services {
		if strings.HasPrefix(svc, "grpc.reflection.") ||
			strings.HasPrefix(svc, "grpc.health.") ||
			strings.HasPrefix(svc, "kestrel.gateway.") {
			continue
		}
		out = append(out, svc)
	}
	return out
}

// Run executes the refresh loop until ctx is cancelled. The caller runs
// the startup sweep itself; the loop's first execution comes one full
// interval later.
func (s *Service) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.interval = time.Duration(config.DefaultRefreshInterval) * time.Second
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Discover(ctx)
		case <-ctx.Done():
			return
		}
	}
}
