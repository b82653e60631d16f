// Package kafka wraps segmentio/kafka-go for the three event streams:
// message changes, completed index builds and search analytics. Events are
// JSON, keyed for partitioning, and carry the originating request id in a
// header so logs can be followed across services.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/resilience"
)

// RequestIDHeader carries the request id of the call that produced an event.
const RequestIDHeader = "request-id"

// MessageHandler processes one event. A returned error is retried with
// backoff before the event is given up on.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type Consumer struct {
	reader  *kafka.Reader
	topic   string
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

type consumerOptions struct {
	group       string
	startOffset int64
	retry       resilience.RetryConfig
}

type ConsumerOption func(*consumerOptions)

// WithGroup overrides the configured consumer group.
func WithGroup(group string) ConsumerOption {
	return func(o *consumerOptions) { o.group = group }
}

// FromLatest makes a new group skip the backlog. Search replicas use it for
// build notifications, where only events after startup matter.
func FromLatest() ConsumerOption {
	return func(o *consumerOptions) { o.startOffset = kafka.LastOffset }
}

// WithRetry sets the backoff applied to a failing handler.
func WithRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(o *consumerOptions) { o.retry = cfg }
}

func resolveOptions(cfg config.KafkaConfig, opts []ConsumerOption) consumerOptions {
	o := consumerOptions{
		group:       cfg.ConsumerGroup,
		startOffset: kafka.FirstOffset,
		retry:       resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	o := resolveOptions(cfg, opts)
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     o.group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: o.startOffset,
	})
	return &Consumer{
		reader:  r,
		topic:   topic,
		handler: handler,
		retry:   o.retry,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", o.group),
	}
}

// Start consumes until ctx is cancelled. Offsets are committed once the
// handler succeeds or its retries are exhausted, so one bad event cannot
// stall a partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("giving up on message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx = withRequestID(ctx, msg.Headers)
	c.logger.DebugContext(ctx, "message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
	)
	return resilience.Retry(ctx, "handle "+c.topic, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
}

func withRequestID(ctx context.Context, headers []kafka.Header) context.Context {
	for _, h := range headers {
		if h.Key == RequestIDHeader && len(h.Value) > 0 {
			return logger.WithRequestID(ctx, string(h.Value))
		}
	}
	return ctx
}

// ErrUndecodable marks an event that can never be processed.
var ErrUndecodable = errors.New("undecodable event")

// DecodeJSON unmarshals an event value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return result, nil
}
