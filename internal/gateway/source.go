package gateway

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/kestrelgw/kestrel/internal/discovery"
	"github.com/kestrelgw/kestrel/internal/metrics"
	"github.com/kestrelgw/kestrel/internal/pool"
)

// poolSource adapts the pool manager to the discovery channel source.
type poolSource struct {
	pools *pool.Manager
}

func (ps poolSource) Conn(backend string) (grpc.ClientConnInterface, error) {
	p := ps.pools.Get(backend)
	if p == nil {
		return nil, fmt.Errorf("no pool for backend %s", backend)
	}
	return p.Conn(), nil
}

// discoveryObserver routes sweep telemetry into prometheus.
type discoveryObserver struct {
	metrics *metrics.Metrics
}

func (o discoveryObserver) RecordSweep() {
	o.metrics.RecordDiscoverySweep()
}

func (o discoveryObserver) RecordError(backend string, kind discovery.FailureKind) {
	o.metrics.RecordDiscoveryError(backend, string(kind))
}

func (o discoveryObserver) SetRouteCount(n int) {
	o.metrics.SetRouteCount(n)
}
