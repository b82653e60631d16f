// Package messages describes the read-only forum message store the indexer
// walks and the native backend filters against.
package messages

import (
	"context"
	"slices"
	"time"
)

// Message is the subset of a forum post the search engine consumes.
type Message struct {
	ID           uint32    `json:"id"`
	TopicID      uint32    `json:"topic_id"`
	BoardID      uint32    `json:"board_id"`
	MemberID     uint32    `json:"member_id"`
	PostedAt     time.Time `json:"posted_at"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Likes        int       `json:"likes"`
	Replies      int       `json:"replies"`
	Sticky       bool      `json:"sticky"`
	FirstMessage bool      `json:"first_message"`
}

// Filter restricts a result set. Zero values mean "no restriction".
type Filter struct {
	BoardIDs  []uint32
	MemberIDs []uint32
	TopicID   uint32
	From      time.Time
	To        time.Time
	MinID     uint32
	MaxID     uint32
}

// Match reports whether m passes every restriction of f.
func (f Filter) Match(m Message) bool {
	if len(f.BoardIDs) > 0 && !slices.Contains(f.BoardIDs, m.BoardID) {
		return false
	}
	if len(f.MemberIDs) > 0 && !slices.Contains(f.MemberIDs, m.MemberID) {
		return false
	}
	if f.TopicID != 0 && m.TopicID != f.TopicID {
		return false
	}
	if !f.From.IsZero() && m.PostedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.PostedAt.After(f.To) {
		return false
	}
	if f.MinID != 0 && m.ID < f.MinID {
		return false
	}
	if f.MaxID != 0 && m.ID > f.MaxID {
		return false
	}
	return true
}

// Store is the message source. Batch and Fetch return messages in
// ascending id order.
type Store interface {
	// Batch returns up to limit messages with id >= fromID.
	Batch(ctx context.Context, fromID uint32, limit int) ([]Message, error)
	// Fetch returns the messages among ids that pass filter.
	Fetch(ctx context.Context, ids []uint32, filter Filter) ([]Message, error)
	// Stats reports the message count and the id range.
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Count int64  `json:"count"`
	MinID uint32 `json:"min_id"`
	MaxID uint32 `json:"max_id"`
}
