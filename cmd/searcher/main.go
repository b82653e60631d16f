// Command searcher serves forum search over the selected backend and the
// index administration API: stepping and rebuilding the index, cache
// control and the Sphinx configuration download.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend/native"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend/sphinx"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/sphinxconf"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port, "backend", cfg.Search.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, registry := metrics.NewService("searcher")
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, registry)
		defer shutdownMetrics(context.Background())
	}

	stores, err := app.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	var store cache.Store
	redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, caching in process memory", "error", err)
		store = cache.NewMemoryStore()
	} else {
		defer redisClient.Close()
		store = redisClient
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Search.CacheTTL)
	}
	queryCache := cache.New(store, cfg.Search.CacheTTL, m)

	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	var (
		collector     *analytics.Collector
		completeTopic kafka.Publisher
	)
	if kafkaEnabled {
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		collector = analytics.NewCollector(analyticsProducer, analytics.DefaultBufferSize, m)
		collector.Start(ctx)
		defer collector.Close()

		completeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer completeProducer.Close()
		completeTopic = completeProducer
	}

	builder, defaults, err := app.NewBuilder(stores, cfg.Indexer, completeTopic, m)
	if err != nil {
		slog.Error("failed to create index builder", "error", err)
		os.Exit(1)
	}

	backends := backend.Registry{
		native.Name: native.New(stores.Index, stores.Messages, stores.Settings, 0),
	}
	sphinxConn, err := sphinx.Dial(cfg.Sphinx.Addr, cfg.Sphinx.ConnectTimeout, cfg.Sphinx.QueryTimeout)
	if err != nil {
		slog.Error("failed to configure sphinx connection", "error", err)
		os.Exit(1)
	}
	defer sphinxConn.Close()
	sphinxBackend, err := sphinx.New(sphinxConn, cfg.Sphinx, sphinx.WithCache(queryCache), sphinx.WithMetrics(m))
	if err != nil {
		slog.Error("failed to create sphinx backend", "error", err)
		os.Exit(1)
	}
	backends[sphinx.Name] = sphinxBackend
	backends["external"] = sphinxBackend

	service := searcher.New(backends, stores.Settings, searcher.Options{
		Backend:        cfg.Search.Backend,
		Blacklist:      cfg.Search.Blacklist,
		SimpleFulltext: cfg.Search.SimpleFulltext,
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxResults:     cfg.Search.MaxResults,
	}, collector, m)

	// A memory index is private to this process, so the work the indexer
	// worker does for a shared index happens here.
	if stores.LocalIndex() && cfg.Indexer.StepInterval > 0 {
		go indexer.AutoStep(ctx, builder, cfg.Indexer.StepInterval)
	}

	if kafkaEnabled {
		if stores.LocalIndex() {
			incremental := indexer.NewIncremental(stores.Index, stores.Settings, m)
			messageConsumer := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MessageEvents, consumer.HandleMessage(incremental)))
			go func() {
				if err := messageConsumer.Start(ctx); err != nil {
					slog.Error("message event consumer error", "error", err)
				}
			}()
			slog.Info("applying message events to the local index", "topic", cfg.Kafka.Topics.MessageEvents)
		}

		// Every replica drops its own cache, so each one joins its own group.
		group := fmt.Sprintf("%s-complete-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
		completeConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, onIndexComplete(stores, queryCache),
			kafka.WithGroup(group), kafka.FromLatest())
		go func() {
			if err := completeConsumer.Start(ctx); err != nil {
				slog.Error("index complete consumer error", "error", err)
			}
		}()
		slog.Info("listening for completed builds", "topic", cfg.Kafka.Topics.IndexComplete, "group", group)
	} else {
		slog.Warn("kafka disabled, incremental indexing and analytics are off")
	}

	checker := health.NewChecker("searcher")
	checker.Register("postgres", health.PingCheck(stores.DB.Ping, true))
	checker.Register("search_backend", func(ctx context.Context) health.ComponentHealth {
		b, err := service.Backend(ctx)
		if err == nil {
			err = b.Ready(ctx)
		}
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: b.Name()}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, false))
	}

	h := handler.New(service, queryCache)
	admin := handler.NewAdmin(builder, defaults, sphinxconf.FromConfig(cfg), backends)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/index/step", admin.Step)
	mux.HandleFunc("POST /api/v1/index/rebuild", admin.Rebuild)
	mux.HandleFunc("GET /api/v1/index/status", admin.Status)
	mux.HandleFunc("GET /api/v1/sphinx/config", admin.SphinxConfig)
	mux.HandleFunc("GET /api/v1/backends", admin.Backends)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	if f, ok := stores.Index.(indexer.Flusher); ok {
		if err := f.Flush(); err != nil {
			slog.Error("final index flush failed", "error", err)
		}
	}
	slog.Info("search service stopped")
}

// onIndexComplete reloads a snapshot index and drops cached results once a
// build finishes anywhere in the cluster.
func onIndexComplete(stores *app.Stores, queryCache *cache.QueryCache) kafka.MessageHandler {
	log := slog.Default().With("component", "index-complete")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[indexer.CompleteEvent](value)
		if err != nil {
			log.Error("failed to decode index complete event", "error", err)
			return nil
		}
		if err := stores.Reload(); err != nil {
			return fmt.Errorf("reloading index: %w", err)
		}
		deleted, err := queryCache.Invalidate(ctx)
		if err != nil {
			return err
		}
		log.Info("index rebuilt, cache invalidated",
			"word_size", ev.WordSize,
			"entries", ev.Entries,
			"keys_deleted", deleted,
		)
		return nil
	}
}
