package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

func TestIncrementalSkippedWithoutIndex(t *testing.T) {
	h := newHarness(t, corpus())
	u := NewIncremental(h.idx, h.st, metrics.NewUnregistered())
	applied, err := u.Apply(context.Background(), MessageEvent{
		Action:  ActionCreated,
		Message: messages.Message{ID: 500, Body: "brand new topic"},
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, h.idx.Entries())
}

func TestIncrementalAfterBuild(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, corpus())
	runToDone(t, h.builder(1000, time.Hour, time.Millisecond, nil), nil)
	tok := tokenizer.New(tokenizer.Small)
	u := NewIncremental(h.idx, h.st, nil)

	applied, err := u.Apply(ctx, MessageEvent{
		Action:  ActionCreated,
		Message: messages.Message{ID: 500, Body: "Forum question about zeppelins"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	bm, _ := h.idx.Lookup(ctx, tok.WordID("zeppelins"))
	assert.True(t, bm.Contains(500))
	// Stop words stay out of the index.
	bm, _ = h.idx.Lookup(ctx, tok.WordID("forum"))
	assert.True(t, bm.IsEmpty())

	applied, err = u.Apply(ctx, MessageEvent{
		Action:  ActionUpdated,
		Message: messages.Message{ID: 500, Body: "airships only"},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	bm, _ = h.idx.Lookup(ctx, tok.WordID("zeppelins"))
	assert.False(t, bm.Contains(500))
	bm, _ = h.idx.Lookup(ctx, tok.WordID("airships"))
	assert.True(t, bm.Contains(500))

	applied, err = u.Apply(ctx, MessageEvent{Action: ActionDeleted, Message: messages.Message{ID: 500}})
	require.NoError(t, err)
	assert.True(t, applied)
	bm, _ = h.idx.Lookup(ctx, tok.WordID("airships"))
	assert.True(t, bm.IsEmpty())

	_, err = u.Apply(ctx, MessageEvent{Action: "moved", Message: messages.Message{ID: 3}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestIncrementalDuringBuild(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, corpus())
	b := h.builder(2, 2*time.Second, time.Second, nil)
	state, _, err := b.Step(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, PhaseIndexing, state.Phase)
	u := NewIncremental(h.idx, h.st, nil)

	ahead, err := u.Apply(ctx, MessageEvent{
		Action:  ActionCreated,
		Message: messages.Message{ID: state.Cursor + 100, Body: "not reached yet"},
	})
	require.NoError(t, err)
	assert.False(t, ahead)

	behind, err := u.Apply(ctx, MessageEvent{
		Action:  ActionUpdated,
		Message: messages.Message{ID: 3, Body: "edited before the cursor"},
	})
	require.NoError(t, err)
	assert.True(t, behind)
	bm, _ := h.idx.Lookup(ctx, tokenizer.New(tokenizer.Small).WordID("edited"))
	assert.True(t, bm.Contains(3))
}
