// Command gateway is the public entry point. It authenticates API keys,
// applies per-key rate limits and proxies to the searcher, ingestion and
// analytics services. It also serves API key administration.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/auth/ratelimit"
	gwhandler "github.com/Adithya-Monish-Kumar-K/forum-search/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"searcher_url", cfg.Gateway.SearcherURL,
		"ingestion_url", cfg.Gateway.IngestionURL,
		"analytics_url", cfg.Gateway.AnalyticsURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	keys := apikey.NewValidator(db)
	if err := keys.Migrate(ctx); err != nil {
		slog.Error("failed to migrate api key schema", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.Gateway.RateWindow)
	go limiter.Run(ctx, cfg.Gateway.RateWindow)

	h, err := gwhandler.New(gwhandler.Config{
		SearcherURL:  cfg.Gateway.SearcherURL,
		IngestionURL: cfg.Gateway.IngestionURL,
		AnalyticsURL: cfg.Gateway.AnalyticsURL,
	}, keys)
	if err != nil {
		slog.Error("invalid upstream configuration", "error", err)
		os.Exit(1)
	}

	m, registry := metrics.NewService("gateway")
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, registry)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker("gateway")
	checker.Register("postgres", health.PingCheck(db.Ping, true))

	chain := router.New(h, keys, limiter, checker, m, router.Options{
		CORSOrigins:      cfg.Gateway.CORSOrigins,
		DefaultRateLimit: cfg.Gateway.DefaultRateLimit,
		Timeout:          cfg.Server.WriteTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway service stopped")
}
