package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

type recordingApplier struct {
	events []indexer.MessageEvent
	err    error
}

func (r *recordingApplier) Apply(_ context.Context, ev indexer.MessageEvent) (bool, error) {
	r.events = append(r.events, ev)
	return r.err == nil, r.err
}

func TestHandleMessage(t *testing.T) {
	applier := &recordingApplier{}
	handle := HandleMessage(applier)

	err := handle(context.Background(), []byte("42"),
		[]byte(`{"action":"updated","message":{"id":42,"body":"hello there"}}`))
	require.NoError(t, err)
	require.Len(t, applier.events, 1)
	assert.Equal(t, indexer.ActionUpdated, applier.events[0].Action)
	assert.Equal(t, uint32(42), applier.events[0].Message.ID)
	assert.Equal(t, "hello there", applier.events[0].Message.Body)
}

func TestHandleMessageDropsUndecodable(t *testing.T) {
	applier := &recordingApplier{}
	require.NoError(t, HandleMessage(applier)(context.Background(), nil, []byte("{not json")))
	assert.Empty(t, applier.events)
}

func TestHandleMessageErrors(t *testing.T) {
	transient := &recordingApplier{err: fmt.Errorf("%w: db down", apperrors.ErrTransientIndexing)}
	err := HandleMessage(transient)(context.Background(), nil, []byte(`{"action":"created","message":{"id":1}}`))
	assert.True(t, errors.Is(err, apperrors.ErrTransientIndexing))

	invalid := &recordingApplier{err: fmt.Errorf("%w: bad action", apperrors.ErrInvalidInput)}
	err = HandleMessage(invalid)(context.Background(), nil, []byte(`{"action":"moved","message":{"id":1}}`))
	assert.NoError(t, err)
}
