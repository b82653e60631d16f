// Package publisher stores message changes in PostgreSQL and announces them
// on Kafka for incremental indexing.
package publisher

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
)

// Writer is implemented by the Postgres message store.
type Writer interface {
	Upsert(ctx context.Context, m messages.Message) (bool, error)
	Delete(ctx context.Context, id uint32) (bool, error)
}

// Publisher coordinates message persistence and event production.
type Publisher struct {
	store    Writer
	producer kafka.Publisher
	logger   *slog.Logger
}

func New(store Writer, producer kafka.Publisher) *Publisher {
	return &Publisher{
		store:    store,
		producer: producer,
		logger:   slog.Default().With("component", "message-publisher"),
	}
}

// Save stores a created or edited message and publishes the matching
// event. A publish failure is logged, not returned: the message is stored
// and the next rebuild picks it up.
func (p *Publisher) Save(ctx context.Context, req *ingestion.MessageRequest) (*ingestion.MessageResponse, error) {
	msg := req.Message()
	created, err := p.store.Upsert(ctx, msg)
	if err != nil {
		return nil, err
	}
	action := indexer.ActionUpdated
	if created {
		action = indexer.ActionCreated
	}
	published := p.publish(ctx, indexer.MessageEvent{Action: action, Message: msg})
	return &ingestion.MessageResponse{ID: msg.ID, Action: string(action), Published: published}, nil
}

// Remove deletes a message and publishes its removal.
func (p *Publisher) Remove(ctx context.Context, id uint32) (*ingestion.MessageResponse, error) {
	found, err := p.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "message %d not found", id)
	}
	ev := indexer.MessageEvent{Action: indexer.ActionDeleted, Message: messages.Message{ID: id}}
	published := p.publish(ctx, ev)
	return &ingestion.MessageResponse{ID: id, Action: string(indexer.ActionDeleted), Published: published}, nil
}

// publish keys events by message id so changes to one message stay in
// order on a single partition.
func (p *Publisher) publish(ctx context.Context, ev indexer.MessageEvent) bool {
	if p.producer == nil {
		return false
	}
	event := kafka.Event{Key: strconv.FormatUint(uint64(ev.Message.ID), 10), Value: ev}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish message event, index catches up on rebuild",
			"id_msg", ev.Message.ID,
			"action", ev.Action,
			"error", err,
		)
		return false
	}
	return true
}
