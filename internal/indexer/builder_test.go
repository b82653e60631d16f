package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/stopwords"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

// fakeClock advances by tick on every reading.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	tick time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.tick)
	return c.t
}

type capturePublisher struct {
	events []kafka.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev kafka.Event) error {
	p.events = append(p.events, ev)
	return nil
}

// flakyIndex fails the next failInserts inserts.
type flakyIndex struct {
	*index.MemoryStore
	failInserts int
}

func (f *flakyIndex) Insert(ctx context.Context, entries []index.Entry) (int64, error) {
	if f.failInserts > 0 {
		f.failInserts--
		return 0, errors.New("connection reset")
	}
	return f.MemoryStore.Insert(ctx, entries)
}

// sizelessIndex cannot report its size.
type sizelessIndex struct {
	*index.MemoryStore
}

func (sizelessIndex) Size(context.Context) (int64, error) {
	return 0, errors.New("statement timeout")
}

func corpus() *messages.MemoryStore {
	topics := []string{"kernel panic", "router firmware", "garden tomatoes", "vintage guitars", "sourdough bread"}
	store := messages.NewMemoryStore()
	id := uint32(3)
	for i := 0; i < 40; i++ {
		body := fmt.Sprintf("Forum post %d about %s. Reply welcome, forum regulars!", i, topics[i%len(topics)])
		if i%3 == 0 {
			body += " See <br /> the [b]wiki[/b] &amp; FAQ."
		}
		store.Put(messages.Message{ID: id, TopicID: uint32(i/4 + 1), BoardID: uint32(i%2 + 1), Body: body})
		id += uint32(i%4 + 1)
	}
	return store
}

type harness struct {
	msgs  *messages.MemoryStore
	idx   *index.MemoryStore
	st    *settings.BuntStore
	pub   *capturePublisher
	clock *fakeClock
}

func newHarness(t *testing.T, msgs *messages.MemoryStore) *harness {
	t.Helper()
	st, err := settings.OpenBunt(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &harness{
		msgs:  msgs,
		idx:   index.NewMemoryStore(""),
		st:    st,
		pub:   &capturePublisher{},
		clock: &fakeClock{t: time.Unix(1_700_000_000, 0)},
	}
}

func (h *harness) builder(batch int, budget, tick time.Duration, idx index.Store) *Builder {
	h.clock.tick = tick
	if idx == nil {
		idx = h.idx
	}
	cfg := DefaultBuildConfig()
	cfg.WordSize = tokenizer.Small
	cfg.BatchSize = batch
	return NewBuilder(h.msgs, idx, h.st,
		WithDefaults(cfg),
		WithBudget(budget),
		WithClock(h.clock.Now),
		WithPublisher(h.pub),
		WithMetrics(metrics.NewUnregistered()),
	)
}

func runToDone(t *testing.T, b *Builder, state *State) (*State, []Progress) {
	t.Helper()
	ctx := context.Background()
	var history []Progress
	for i := 0; i < 10000; i++ {
		next, p, err := b.Step(ctx, state)
		require.NoError(t, err)
		history = append(history, p)
		state = next
		if p.Done {
			return state, history
		}
	}
	t.Fatal("build did not finish")
	return nil, nil
}

func TestBuildSingleStepPerPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, corpus())
	b := h.builder(1000, time.Hour, time.Millisecond, nil)

	state, progress, err := b.Step(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, PhasePruning, state.Phase)
	assert.Equal(t, 80, progress.Percent)
	assert.Equal(t, 40, progress.Processed)

	state, progress, err = b.Step(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, state.Phase)
	assert.Equal(t, 100, progress.Percent)
	assert.True(t, progress.Done)

	active, err := IsActive(ctx, h.st)
	require.NoError(t, err)
	assert.True(t, active)

	resumed, err := b.Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, resumed)

	// "forum" and "post" appear in every message and must be pruned.
	tok := tokenizer.New(tokenizer.Small)
	stops, err := stopwords.LoadSet(ctx, h.st)
	require.NoError(t, err)
	for _, w := range []string{"forum", "post", "about", "reply", "welcome", "regulars"} {
		assert.True(t, stops.Contains(tok.WordID(w)), w)
		bm, _ := h.idx.Lookup(ctx, tok.WordID(w))
		assert.True(t, bm.IsEmpty(), w)
	}
	bm, _ := h.idx.Lookup(ctx, tok.WordID("sourdough"))
	assert.Equal(t, uint64(8), bm.GetCardinality())

	require.Len(t, h.pub.events, 1)
	ev := h.pub.events[0].Value.(CompleteEvent)
	assert.Equal(t, "small", ev.WordSize)

	cfg, ok, err := LoadIndexConfig(ctx, h.st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tokenizer.Small, cfg.WordSize)

	// Stepping a finished build is a no-op.
	again, progress, err := b.Step(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, state, again)
	assert.True(t, progress.Done)
}

func TestBuildDeterministicAcrossBatching(t *testing.T) {
	one := newHarness(t, corpus())
	stateOne, _ := runToDone(t, one.builder(1000, time.Hour, time.Millisecond, nil), nil)

	many := newHarness(t, corpus())
	stateMany, history := runToDone(t, many.builder(3, 2*time.Second, time.Second, nil), nil)

	assert.Equal(t, PhaseDone, stateOne.Phase)
	assert.Equal(t, PhaseDone, stateMany.Phase)
	assert.Greater(t, len(history), 20)
	assert.Equal(t, one.idx.Entries(), many.idx.Entries())

	listOne, _, _ := one.st.Get(context.Background(), settings.KeyStopWords)
	listMany, _, _ := many.st.Get(context.Background(), settings.KeyStopWords)
	assert.Equal(t, listOne, listMany)

	prev := -1
	for _, p := range history {
		assert.GreaterOrEqual(t, p.Percent, prev)
		prev = p.Percent
		if !p.Done {
			assert.Less(t, p.Percent, 100)
		}
		if p.Phase == PhaseIndexing {
			assert.Less(t, p.Percent, 80)
		}
	}
}

func TestBuildResumesAfterInterruption(t *testing.T) {
	ctx := context.Background()
	reference := newHarness(t, corpus())
	runToDone(t, reference.builder(1000, time.Hour, time.Millisecond, nil), nil)

	h := newHarness(t, corpus())
	b := h.builder(4, 2*time.Second, time.Second, nil)
	var state *State
	for i := 0; i < 7; i++ {
		next, _, err := b.Step(ctx, state)
		require.NoError(t, err)
		require.GreaterOrEqual(t, cursorOf(next), cursorOf(state))
		state = next
	}
	require.Equal(t, PhaseIndexing, state.Phase)

	// A new process picks the build up from the settings store.
	restarted := h.builder(4, 2*time.Second, time.Second, nil)
	resumed, err := restarted.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, state, resumed)

	_, status, err := restarted.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseIndexing, status.Phase)
	assert.Equal(t, state.Cursor, status.Cursor)

	runToDone(t, restarted, resumed)
	assert.Equal(t, reference.idx.Entries(), h.idx.Entries())
}

func TestBuildInProgressGuard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, corpus())
	b := h.builder(2, 2*time.Second, time.Second, nil)

	state, _, err := b.Step(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, PhaseIndexing, state.Phase)

	_, err = b.Start(ctx, DefaultBuildConfig(), false)
	assert.ErrorIs(t, err, apperrors.ErrBuildInProgress)

	_, _, err = b.Step(ctx, nil)
	assert.ErrorIs(t, err, apperrors.ErrBuildInProgress)

	stale := &State{Phase: PhaseIndexing, Cursor: 0, Config: state.Config}
	_, _, err = b.Step(ctx, stale)
	assert.ErrorIs(t, err, apperrors.ErrBuildInProgress)

	fresh, err := b.Start(ctx, DefaultBuildConfig(), true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), fresh.Cursor)
	assert.Empty(t, h.idx.Entries())
	active, _ := IsActive(ctx, h.st)
	assert.False(t, active)
}

func TestBuildStepFailureKeepsResumeState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, corpus())
	flaky := &flakyIndex{MemoryStore: h.idx}
	b := h.builder(5, 2*time.Second, time.Second, flaky)

	state, _, err := b.Step(ctx, nil)
	require.NoError(t, err)

	flaky.failInserts = 1
	same, _, err := b.Step(ctx, state)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransientIndexing)
	assert.True(t, apperrors.Retryable(err))
	assert.Equal(t, state, same)

	persisted, err := b.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, persisted)

	next, _, err := b.Step(ctx, same)
	require.NoError(t, err)
	assert.Greater(t, next.Cursor, state.Cursor)
}

func TestBuildEmptyCorpus(t *testing.T) {
	h := newHarness(t, messages.NewMemoryStore())
	state, history := runToDone(t, h.builder(10, time.Hour, time.Millisecond, nil), nil)
	assert.Equal(t, PhaseDone, state.Phase)
	assert.Equal(t, 100, history[len(history)-1].Percent)
	assert.Empty(t, h.idx.Entries())
}

func TestStatusWithoutBuild(t *testing.T) {
	h := newHarness(t, corpus())
	b := h.builder(10, time.Hour, time.Millisecond, nil)
	state, progress, err := b.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, PhaseNotStarted, progress.Phase)
}

func TestBuildCompletionLogsUnreadableSize(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newHarness(t, corpus())
	b := h.builder(1000, time.Hour, time.Millisecond, sizelessIndex{h.idx})
	final, _ := runToDone(t, b, nil)

	assert.Equal(t, PhaseDone, final.Phase)
	require.Len(t, h.pub.events, 1)
	assert.Contains(t, logs.String(), "failed to read index size after build")
	assert.Contains(t, logs.String(), "statement timeout")
}
