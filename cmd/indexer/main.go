// Command indexer is the background index worker. It applies message
// events from Kafka to the shared index and advances running builds on
// a timer. With the memory index store the searcher owns the index and
// this worker refuses to start.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
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
	slog.Info("starting indexer worker",
		"index_store", cfg.Indexer.Store,
		"step_interval", cfg.Indexer.StepInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, registry := metrics.NewService("indexer")
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
	if stores.LocalIndex() {
		slog.Error("the memory index store is owned by the search service, run the worker with the postgres store")
		os.Exit(1)
	}

	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	var completeTopic kafka.Publisher
	if kafkaEnabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer p.Close()
		completeTopic = p
	}
	builder, _, err := app.NewBuilder(stores, cfg.Indexer, completeTopic, m)
	if err != nil {
		slog.Error("failed to create index builder", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	if cfg.Indexer.StepInterval > 0 {
		go func() {
			defer close(done)
			indexer.AutoStep(ctx, builder, cfg.Indexer.StepInterval)
		}()
	} else {
		close(done)
		slog.Info("auto-step disabled, builds advance through explicit step calls")
	}

	if kafkaEnabled {
		incremental := indexer.NewIncremental(stores.Index, stores.Settings, m)
		messageConsumer := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MessageEvents, consumer.HandleMessage(incremental)))
		slog.Info("consuming message events",
			"topic", cfg.Kafka.Topics.MessageEvents,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := messageConsumer.Start(ctx); err != nil {
			slog.Error("message event consumer error", "error", err)
		}
	} else {
		slog.Warn("kafka disabled, message changes reach the index on the next rebuild")
		<-ctx.Done()
	}

	<-done
	slog.Info("indexer worker stopped")
}
