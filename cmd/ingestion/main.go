// Command ingestion accepts forum message changes over HTTP, stores them in
// PostgreSQL and publishes them to Kafka for incremental indexing.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion/publisher"
	pgstore "github.com/Adithya-Monish-Kumar-K/forum-search/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/middleware"
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
	slog.Info("starting ingestion service", "port", cfg.Ingestion.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := pgstore.Migrate(ctx, db); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	var producer kafka.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MessageEvents)
		defer p.Close()
		producer = p
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.MessageEvents)
	} else {
		slog.Warn("kafka disabled, changes reach the index on the next rebuild")
	}

	h := handler.New(publisher.New(pgstore.NewMessageStore(db), producer))
	checker := health.NewChecker("ingestion")
	checker.Register("postgres", health.PingCheck(db.Ping, true))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/messages", h.Save)
	mux.HandleFunc("PUT /api/v1/messages/{id}", h.Save)
	mux.HandleFunc("DELETE /api/v1/messages/{id}", h.Delete)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ingestion.Port),
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
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
