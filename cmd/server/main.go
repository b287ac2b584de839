package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"aura/internal/platform/config"
	"aura/internal/platform/httpserver"
	"aura/internal/platform/logger"
	"aura/internal/platform/postgres"
	platformredis "aura/internal/platform/redis"
	"aura/internal/ratelimit/admin"
	ratelimitmetrics "aura/internal/ratelimit/metrics"
	ratelimitmw "aura/internal/ratelimit/middleware"
	"aura/internal/ratelimit/policy"
	"aura/internal/ratelimit/service/enforcer"
	"aura/internal/ratelimit/store/counter"
	"aura/internal/ratelimit/store/subscription"
	httpapi "aura/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx := context.Background()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	counters := counter.NewRedis(redisClient.Client)
	subs := subscription.NewPostgres(pool)

	// Policy misconfiguration fails here, loudly, not at request time.
	policies := policy.Default()
	if err := policies.Validate(); err != nil {
		log.Error("policy table invalid", "error", err)
		os.Exit(1)
	}

	quota, err := enforcer.New(counters, subs, policies,
		enforcer.WithLogger(log),
		enforcer.WithMetrics(ratelimitmetrics.New()),
		enforcer.WithStoreTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		log.Error("enforcer init failed", "error", err)
		os.Exit(1)
	}

	gate := ratelimitmw.New(quota, log,
		ratelimitmw.WithDisabled(cfg.RateLimitDisabled),
		ratelimitmw.WithUpgradeURL(cfg.UpgradeURL),
	)

	adminService, err := admin.New(counters, policies, admin.WithLogger(log))
	if err != nil {
		log.Error("admin service init failed", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewHandler(subs, &staticCompletions{}, log)
	router := httpapi.NewRouter(handler, gate, httpapi.NewAdminHandler(adminService))

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting aura gateway", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// staticCompletions stands in for the external completion provider until the
// provider client is wired.
type staticCompletions struct{}

func (s *staticCompletions) Complete(_ context.Context, _, prompt string) (string, error) {
	return fmt.Sprintf("echo: %s", prompt), nil
}
