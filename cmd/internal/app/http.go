package app

import (
	"net/http"
	"time"

	authapi "turnstile/cmd/internal/auth/api"
	"turnstile/cmd/internal/events"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

type routerDeps struct {
	log     Logger
	cfg     Config
	be      backends
	auth    *authapi.Handler
	events  *events.Gateway
	metrics *httpMetrics
	reg     *prometheus.Registry
}

func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithRequestLogging(d.log, d.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.ReadinessRequireDB && d.be.pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if d.be.pool != nil {
			if err := PingDB(r.Context(), d.be.pool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if d.be.rdb != nil {
			if err := PingRedis(r.Context(), d.be.rdb, 2*time.Second); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", metricsHandler(d.reg))

	d.auth.Routes(r)
	r.Method(http.MethodGet, "/auth/events", d.events)

	return r
}
