// Package index holds the word -> message inverted index behind a Store
// interface with in-memory and Postgres implementations.
package index

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// Entry is one (word, message) pair. The index is a set of entries.
type Entry struct {
	WordID    uint32
	MessageID uint32
}

// WordCount is the number of distinct messages a word appears in.
type WordCount struct {
	WordID   uint32
	Messages uint64
}

// Store persists index entries. Implementations must treat Insert as a set
// union: inserting an existing pair is not an error.
type Store interface {
	// Insert adds entries, ignoring pairs that already exist, and returns
	// how many were new.
	Insert(ctx context.Context, entries []Entry) (int64, error)
	// Clear drops every entry.
	Clear(ctx context.Context) error
	// Lookup returns the messages containing wordID.
	Lookup(ctx context.Context, wordID uint32) (*roaring.Bitmap, error)
	// CountWords reports message counts for word ids in [from, to).
	CountWords(ctx context.Context, from, to uint32) ([]WordCount, error)
	// DeleteWords removes every entry of the given words.
	DeleteWords(ctx context.Context, wordIDs []uint32) (int64, error)
	// RemoveMessage removes every entry of one message.
	RemoveMessage(ctx context.Context, messageID uint32) error
	// Size is the number of entries.
	Size(ctx context.Context) (int64, error)
}

// Dedupe drops repeated pairs keeping first-seen order.
func Dedupe(entries []Entry) []Entry {
	seen := make(map[Entry]struct{}, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
