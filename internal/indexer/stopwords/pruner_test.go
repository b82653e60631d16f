package stopwords

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

type fixture struct {
	idx  *index.MemoryStore
	st   *settings.BuntStore
	msgs *messages.MemoryStore
}

// newFixture indexes 10 messages. Word 1 is in all of them, word 2 in 7,
// word 3 in 6 (exactly the 60% threshold) and word 150 in 9.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := settings.OpenBunt(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	msgs := messages.NewMemoryStore()
	idx := index.NewMemoryStore("")
	var entries []index.Entry
	for id := uint32(1); id <= 10; id++ {
		msgs.Put(messages.Message{ID: id})
		entries = append(entries, index.Entry{WordID: 1, MessageID: id})
		if id <= 7 {
			entries = append(entries, index.Entry{WordID: 2, MessageID: id})
		}
		if id <= 6 {
			entries = append(entries, index.Entry{WordID: 3, MessageID: id})
		}
		if id <= 9 {
			entries = append(entries, index.Entry{WordID: 150, MessageID: id})
		}
		entries = append(entries, index.Entry{WordID: 40, MessageID: id % 2})
	}
	_, err = idx.Insert(ctx, entries)
	require.NoError(t, err)
	return fixture{idx: idx, st: st, msgs: msgs}
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, uint64(6), Threshold(10, 0.6))
	assert.Equal(t, uint64(7), Threshold(11, 0.6))
	assert.Equal(t, uint64(0), Threshold(0, 0.6))
}

func TestPruneFullSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := metrics.NewUnregistered()
	p := New(f.idx, f.st, f.msgs, WithMetrics(m))

	far := time.Now().Add(time.Hour)
	next, done, err := p.Prune(ctx, 0, Columns{StepSize: 100, MaxSize: 250}, far)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint32(300), next)

	ids, err := Load(ctx, f.st)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 150}, ids)

	for _, w := range []uint32{1, 2, 150} {
		bm, _ := f.idx.Lookup(ctx, w)
		assert.True(t, bm.IsEmpty(), "word %d should be pruned", w)
	}
	bm, _ := f.idx.Lookup(ctx, 3)
	assert.Equal(t, uint64(6), bm.GetCardinality())
}

func TestPruneRespectsDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Unix(1000, 0)
	p := New(f.idx, f.st, f.msgs, WithClock(func() time.Time { return now }))

	// Deadline already passed: exactly one range is processed per call.
	cols := Columns{StepSize: 100, MaxSize: 250}
	next, done, err := p.Prune(ctx, 0, cols, now)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, uint32(100), next)

	ids, _ := Load(ctx, f.st)
	assert.Equal(t, []uint32{1, 2}, ids)

	next, done, err = p.Prune(ctx, next, cols, now)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, uint32(200), next)

	next, done, err = p.Prune(ctx, next, cols, now)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint32(300), next)
}

func TestPruneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := New(f.idx, f.st, f.msgs)
	cols := Columns{StepSize: 64, MaxSize: 1000}
	far := time.Now().Add(time.Hour)

	_, _, err := p.Prune(ctx, 0, cols, far)
	require.NoError(t, err)
	before := f.idx.Entries()
	list, _, _ := f.st.Get(ctx, settings.KeyStopWords)

	_, done, err := p.Prune(ctx, 0, cols, far)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, before, f.idx.Entries())
	again, _, _ := f.st.Get(ctx, settings.KeyStopWords)
	assert.Equal(t, list, again)
}

func TestLoadSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Set(ctx, settings.KeyStopWords, "4,8"))
	set, err := LoadSet(ctx, f.st)
	require.NoError(t, err)
	assert.True(t, set.Contains(8))
	assert.False(t, set.Contains(5))
}
