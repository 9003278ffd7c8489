// Package gateway assembles the HTTP listener, middleware stack, and
// request pipeline over the routing, auth, and resilience layers.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/auth"
	"github.com/kestrelgw/kestrel/internal/circuitbreaker"
	"github.com/kestrelgw/kestrel/internal/discovery"
	"github.com/kestrelgw/kestrel/internal/logging"
	"github.com/kestrelgw/kestrel/internal/metrics"
	"github.com/kestrelgw/kestrel/internal/middleware"
	"github.com/kestrelgw/kestrel/internal/pool"
	"github.com/kestrelgw/kestrel/internal/ratelimit"
	"github.com/kestrelgw/kestrel/internal/router"
	"github.com/kestrelgw/kestrel/internal/tracing"
)

// Server is the assembled gateway.
type Server struct {
	cfg      *config.Config
	pools    *pool.Manager
	authPool *pool.Pool
	table    *router.Table
	disc     *discovery.Service
	authSvc  *auth.Service
	limiter  *ratelimit.Limiter
	breakers map[string]*circuitbreaker.Breaker
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
	realIP   *middleware.RealIP
	retry    retryConfigSource

	httpServer *http.Server
	ready      atomic.Bool
	started    time.Time
}

// retryConfigSource exists so tests can shrink backoff delays.
type retryConfigSource func(backend string) retryPolicy

// New wires every subsystem from configuration. Nothing is dialed
// eagerly; backends that are down at startup surface during discovery.
func New(cfg *config.Config) (*Server, error) {
	m := metrics.New()

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	pools, err := pool.NewManager(cfg.Services)
	if err != nil {
		return nil, err
	}

	authPool, err := pool.New(config.ServiceConfig{
		Name:               "auth",
		Endpoint:           cfg.Auth.ServiceEndpoint,
		ConnectionPoolSize: 1,
	})
	if err != nil {
		pools.Close()
		return nil, err
	}

	authSvc, err := auth.New(authPool.Conn(),
		auth.WithCallTimeout(cfg.Auth.Timeout()),
		auth.WithCacheObservers(
			func() { m.RecordPolicyCache(true) },
			func() { m.RecordPolicyCache(false) },
		))
	if err != nil {
		authPool.Close()
		pools.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		pools:    pools,
		authPool: authPool,
		table:    router.New(),
		authSvc:  authSvc,
		breakers: make(map[string]*circuitbreaker.Breaker, len(cfg.Services)),
		metrics:  m,
		tracer:   tracer,
		realIP:   middleware.NewRealIP(cfg.TrustedProxies),
		retry:    defaultRetrySource,
		started:  time.Now(),
	}

	for _, svc := range cfg.Services {
		bcfg := circuitbreaker.DefaultConfig()
		if svc.CircuitBreaker != nil {
			bcfg = circuitbreaker.Config{
				FailureThreshold: svc.CircuitBreaker.FailureThreshold,
				SuccessThreshold: svc.CircuitBreaker.SuccessThreshold,
				Timeout:          time.Duration(svc.CircuitBreaker.TimeoutMs) * time.Millisecond,
			}
		}
		b := circuitbreaker.New(bcfg)
		name := svc.Name
		b.OnStateChange(func(from, to circuitbreaker.State) {
			m.SetBreakerState(name, int(to))
			logging.Warn("circuit breaker state change",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		})
		s.breakers[name] = b
	}

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Window(),
			ratelimit.WithEvictionObserver(func() { m.AddEvictions(1) }),
			ratelimit.WithTrackedObserver(m.SetTrackedClients),
		)
	}

	s.disc = discovery.New(cfg, s.table, poolSource{pools}, discoveryObserver{m})
	return s, nil
}

// Handler builds the full middleware stack. System endpoints bypass rate
// limiting and auth; everything else flows through the proxy pipeline.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", methodOnly(http.MethodGet, s.handleHealth))
	mux.HandleFunc("/health/live", methodOnly(http.MethodGet, s.handleLive))
	mux.HandleFunc("/health/ready", methodOnly(http.MethodGet, s.handleReady))
	mux.HandleFunc("/metrics", methodOnly(http.MethodGet, s.metrics.Handler().ServeHTTP))
	mux.HandleFunc("/admin/routes", methodOnly(http.MethodGet, s.handleAdminRoutes))
	mux.HandleFunc("/admin/breakers", methodOnly(http.MethodGet, s.handleAdminBreakers))
	mux.HandleFunc("/admin/refresh-routes", methodOnly(http.MethodPost, s.handleAdminRefresh))

	proxy := middleware.NewChain(
		s.metricsMiddleware(),
		s.rateLimitMiddleware(),
		middleware.BodyLimit(s.cfg.Limits),
		s.routeAuthMiddleware(),
	).Then(http.HandlerFunc(s.handleProxy))
	mux.Handle("/", proxy)

	outer := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
	)
	if s.tracer.IsEnabled() {
		outer = outer.Append(s.tracer.Middleware())
	}
	outer = outer.Append(middleware.AccessLog(s.realIP.ClientIP))

	return outer.Then(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// return value reports whether shutdown finished within its budget.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Discovery.Enabled {
		s.disc.Discover(ctx)
		go s.disc.Run(ctx)
	} else {
		s.disc.ApplyStatic()
	}
	s.ready.Store(true)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info("gateway listening", zap.String("addr", s.cfg.Server.Addr()))
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.ready.Store(false)
	logging.Info("shutting down", zap.Duration("budget", s.cfg.Shutdown.Timeout()))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.Timeout())
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	closed := s.pools.Close() + s.authPool.Close()
	logging.Info("backend connections closed", zap.Int("count", closed))

	if s.limiter != nil {
		s.limiter.Close()
	}
	if terr := s.tracer.Close(); terr != nil {
		logging.Warn("tracer shutdown failed", zap.Error(terr))
	}
	logging.Sync()

	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
