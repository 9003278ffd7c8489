// Package pool manages gRPC client connections to backends.
package pool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/logging"
)

const (
	// closeBudget bounds how long Close waits for in-flight calls to
	// drain before tearing connections down anyway.
	closeBudget = 5 * time.Second

	healthProbeTimeout = 2 * time.Second
)

var keepaliveParams = keepalive.ClientParameters{
	Time:                30 * time.Second,
	Timeout:             10 * time.Second,
	PermitWithoutStream: true,
}

// Pool holds a fixed set of connections to one backend, handed out
// round-robin. Connections are multiplexed; the pool exists to spread
// HTTP/2 stream load, not to serialize access.
type Pool struct {
	backend  string
	endpoint string
	conns    []*grpc.ClientConn
	next     atomic.Uint64
}

// New dials size connections to the endpoint described by cfg. Dialing is
// lazy; a backend that is down at startup does not fail pool creation.
func New(cfg config.ServiceConfig) (*Pool, error) {
	size := cfg.ConnectionPoolSize
	if size <= 0 {
		size = config.DefaultPoolSize
	}

	creds, err := transportCredentials(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepaliveParams),
	}

	p := &Pool{backend: cfg.Name, endpoint: cfg.Endpoint}
	for i := 0; i < size; i++ {
		conn, err := grpc.NewClient(cfg.Endpoint, opts...)
		if err != nil {
			p.close(context.Background())
			return nil, fmt.Errorf("backend %s: dial %s: %w", cfg.Name, cfg.Endpoint, err)
		}
		p.conns = append(p.conns, conn)
	}
	return p, nil
}

func transportCredentials(cfg config.TLSConfig) (credentials.TransportCredentials, error) {
	if !cfg.Enabled {
		return insecure.NewCredentials(), nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s: no certificates found", cfg.CAFile)
		}
		tlsCfg.RootCAs = roots
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(tlsCfg), nil
}

// Backend returns the backend name this pool serves.
func (p *Pool) Backend() string { return p.backend }

// Endpoint returns the dialed endpoint.
func (p *Pool) Endpoint() string { return p.endpoint }

// Size returns the number of pooled connections.
func (p *Pool) Size() int { return len(p.conns) }

// Conn returns the next connection round-robin.
func (p *Pool) Conn() *grpc.ClientConn {
	n := p.next.Add(1)
	return p.conns[(n-1)%uint64(len(p.conns))]
}

// Healthy probes the backend's gRPC health service on one connection. A
// backend without the health service registered counts as unhealthy.
func (p *Pool) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(p.Conn()).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Close tears down all connections within the close budget and returns
// how many closed cleanly.
func (p *Pool) Close() int {
	ctx, cancel := context.WithTimeout(context.Background(), closeBudget)
	defer cancel()
	return p.close(ctx)
}

// close tears down all connections, returning how many closed cleanly.
func (p *Pool) close(ctx context.Context) int {
	closed := 0
	for _, conn := range p.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			logging.Warn("connection close failed",
				zap.String("backend", p.backend), zap.Error(err))
			continue
		}
		closed++
		select {
		case <-ctx.Done():
			return closed
		default:
		}
	}
	return closed
}

// Manager owns one pool per configured backend.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager builds pools for every configured service.
func NewManager(services []config.ServiceConfig) (*Manager, error) {
	m := &Manager{pools: make(map[string]*Pool, len(services))}
	for _, svc := range services {
		p, err := New(svc)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.pools[svc.Name] = p
	}
	return m, nil
}

// Get returns the pool for a backend, or nil when the backend is unknown.
func (m *Manager) Get(backend string) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[backend]
}

// Backends returns the known backend names.
func (m *Manager) Backends() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Close tears down every pool within the close budget and returns the
// number of connections that closed cleanly.
func (m *Manager) Close() int {
	ctx, cancel := context.WithTimeout(context.Background(), closeBudget)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	closed := 0
	for name, p := range m.pools {
		closed += p.close(ctx)
		delete(m.pools, name)
	}
	return closed
}
