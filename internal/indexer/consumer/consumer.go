// Package consumer applies forum message events from Kafka to the search
// index between full rebuilds.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
)

// Applier is implemented by indexer.Incremental.
type Applier interface {
	Apply(ctx context.Context, ev indexer.MessageEvent) (bool, error)
}

// IndexConsumer wraps a Kafka consumer to drive incremental indexing.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler applying each message event.
// Undecodable events are logged and committed; store failures are returned
// so the event is retried.
func HandleMessage(applier Applier) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.MessageEvent](value)
		if err != nil {
			logger.Error("failed to decode message event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		applied, err := applier.Apply(ctx, event)
		if errors.Is(err, apperrors.ErrInvalidInput) {
			logger.Warn("dropping invalid message event", "key", string(key), "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("applying %s event for message %d: %w", event.Action, event.Message.ID, err)
		}
		logger.Debug("message event processed",
			"id_msg", event.Message.ID,
			"action", event.Action,
			"applied", applied,
		)
		return nil
	}
}
