package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokengard/gateway/internal/config"
	"github.com/tokengard/gateway/internal/embedding"
	"github.com/tokengard/gateway/internal/gateway"
	"github.com/tokengard/gateway/internal/gwlog"
	"github.com/tokengard/gateway/internal/orchestrator"
	"github.com/tokengard/gateway/internal/policyengine"
	"github.com/tokengard/gateway/internal/semcache"
	"github.com/tokengard/gateway/internal/store"
	"github.com/tokengard/gateway/internal/store/memstore"
	"github.com/tokengard/gateway/internal/store/redisstore"
	"github.com/tokengard/gateway/internal/tenant"
	"github.com/tokengard/gateway/internal/upstream"
)

func main() {
	cfg := config.Load()
	log := gwlog.New(cfg)

	log.Info().Str("env", cfg.Env).Str("store_kind", cfg.StoreKind).Msg("gateway starting")

	tenants, analytics, logs, closeStore := newStore(cfg, log)
	defer closeStore()

	// Wiring order matters: the cache and settings store back the
	// Orchestrator, which in turn backs the RequestGateway.
	embedder := embedding.New(cfg.EmbeddingDimensions)
	cache := semcache.New(cfg.CacheMaxEntries)
	settings := tenant.NewStore(cfg.DefaultTTLSeconds, cfg.DefaultSimilarity)
	policy := policyengine.New(tenants, log)
	upstreamClient := upstream.NewHTTPClient(cfg.UpstreamURL, cfg.UpstreamAPIKey, cfg.UpstreamTimeout)

	orch := &orchestrator.Orchestrator{
		Policy:    policy,
		Cache:     cache,
		Embedder:  embedder,
		Upstream:  upstreamClient,
		Settings:  settings,
		Tenants:   tenants,
		Analytics: analytics,
		Logs:      logs,
		Logger:    log,
	}

	gw := gateway.New(cfg, orch, cache, settings, tenants, logs, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      gw.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}
}

// newStore picks the Redis-backed or in-process TenantStore/AnalyticsSink/
// LogStore trio based on cfg.StoreKind, falling back to the in-process
// implementation if Redis is configured but unreachable at startup.
func newStore(cfg *config.Config, log zerolog.Logger) (store.TenantStore, store.AnalyticsSink, store.LogStore, func()) {
	if cfg.StoreKind != "redis" {
		ms := memstore.New()
		log.Info().Msg("using in-process store (set GATEWAY_STORE_KIND=redis for persistence)")
		return ms, &memstore.LogSink{Log: func(rec store.AnalyticsRecord) {
			log.Info().
				Str("proxy_id", rec.ProxyID).
				Str("tenant_scope", rec.TenantScope).
				Bool("cache_hit", rec.CacheHit).
				Msg("analytics record")
		}}, ms, func() {}
	}

	rs, err := redisstore.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis store init failed — falling back to in-process store")
		ms := memstore.New()
		return ms, &memstore.LogSink{}, ms, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — falling back to in-process store")
		_ = rs.Close()
		ms := memstore.New()
		return ms, &memstore.LogSink{}, ms, func() {}
	}

	log.Info().Msg("redis store connected")
	return rs, rs, rs, func() { _ = rs.Close() }
}
