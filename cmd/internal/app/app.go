// Package app wires the turnstile server runtime: config, logging, backing
// stores, HTTP routes and the session events gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"turnstile/cmd/identity"
	authapi "turnstile/cmd/internal/auth/api"
	"turnstile/cmd/internal/auth/session"
	"turnstile/cmd/internal/events"
	"turnstile/cmd/internal/migrations"
	"turnstile/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// backends owns the optional Postgres pool and Redis client.
type backends struct {
	pool *pgxpool.Pool
	rdb  redis.UniversalClient
}

func (b backends) Close(_ context.Context) error {
	var err error
	if b.rdb != nil {
		err = b.rdb.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}

// App is the turnstile server runtime.
type App struct {
	cfg Config
	log Logger

	be backends

	handler http.Handler
}

// Option configures New.
type Option func(*options)

type options struct {
	rdb redis.UniversalClient
	reg *prometheus.Registry
}

// WithRedis supplies an already connected Redis client instead of dialing TURNSTILE_REDIS_URL.
// The App takes ownership and closes it.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(o *options) { o.rdb = rdb }
}

// WithRegistry replaces the metrics registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.reg = reg }
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg == nil {
		o.reg = newRegistry()
	}
	if cfg.Password.Params.MemoryKiB == 0 {
		cfg.Password = password.DefaultConfig()
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	be, err := openBackends(ctx, cfg, log, o.rdb)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = be.Close(ctx)
		return nil, err
	}

	var users identity.Store = identity.NewMemoryStore()
	if be.pool != nil {
		pg, err := identity.NewPostgresStore(be.pool)
		if err != nil {
			return fail(err)
		}
		users = pg
	}

	var slot session.HashSlot = users
	if strings.EqualFold(cfg.RefreshBackend, RefreshBackendRedis) {
		slot = session.NewRedisSlot(be.rdb, cfg.Session.RefreshTokenTTL)
	}

	issuer, err := session.NewIssuer(cfg.Session)
	if err != nil {
		return fail(err)
	}

	sessMetrics, err := session.NewMetrics(o.reg)
	if err != nil {
		return fail(err)
	}
	hub := events.NewHub(log, events.WithRegisterer(o.reg))

	svc, err := session.NewService(log, cfg.Session, users, issuer,
		session.WithPasswordConfig(cfg.Password),
		session.WithRefreshStore(session.NewRefreshStore(slot, hasher)),
		session.WithObserver(sessMetrics),
		session.WithObserver(hub),
	)
	if err != nil {
		return fail(err)
	}

	var authOpts []authapi.HandlerOption
	if be.pool != nil {
		authOpts = append(authOpts,
			authapi.WithAuditor(authapi.LogAuditor{Log: log}),
			authapi.WithAuditor(authapi.NewPostgresAuditor(log, be.pool, identity.DefaultSchema)),
		)
	}
	auth, err := authapi.NewHandler(log, cfg.Auth, svc, authOpts...)
	if err != nil {
		return fail(err)
	}

	gw, err := events.NewGateway(log, cfg.Events, hub, issuer)
	if err != nil {
		return fail(err)
	}

	httpm, err := newHTTPMetrics(o.reg)
	if err != nil {
		return fail(err)
	}

	router := newRouter(routerDeps{
		log:     log,
		cfg:     cfg,
		be:      be,
		auth:    auth,
		events:  gw,
		metrics: httpm,
		reg:     o.reg,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		be:      be,
		handler: WithSecurityHeaders(WithCORS(router, cfg, log)),
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"events_url", wsBaseURL(base)+"/auth/events",
		"db_enabled", a.be.pool != nil,
		"refresh_backend", a.cfg.RefreshBackend,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; they end
	// when ctx (their BaseContext) is cancelled.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.be.Close(shutdownCtx); err != nil {
		a.log.Error("backends.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases backing stores without running the server.
func (a *App) Close(ctx context.Context) error { return a.be.Close(ctx) }

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// openBackends dials Postgres when configured (applying migrations if enabled)
// and Redis when the refresh backend needs it.
func openBackends(ctx context.Context, cfg Config, log Logger, rdb redis.UniversalClient) (backends, error) {
	var be backends

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Info("db.disabled.inmemory_store")
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return backends{}, fmt.Errorf("db: %w", err)
		}
		if cfg.DBMigrate {
			if err := migrations.Up(ctx, pool); err != nil {
				pool.Close()
				return backends{}, err
			}
			log.Info("db.migrations.applied")
		}
		log.Info("db.enabled.postgres_store")
		be.pool = pool
	}

	if !strings.EqualFold(cfg.RefreshBackend, RefreshBackendRedis) {
		if rdb != nil {
			_ = rdb.Close()
		}
		return be, nil
	}

	if rdb == nil {
		c, err := NewRedisClient(ctx, cfg)
		if err != nil {
			_ = be.Close(ctx)
			return backends{}, err
		}
		rdb = c
	}
	be.rdb = rdb
	log.Info("redis.enabled.refresh_slot")
	return be, nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
