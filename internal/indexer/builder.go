// Package indexer builds the word -> message index. A build is a persisted
// state machine driven one time-boxed Step at a time by an external
// scheduler; an interrupted build resumes from the last persisted cursor.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/stopwords"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/resilience"
)

// DefaultStepBudget bounds the wall-clock time of one Step.
const DefaultStepBudget = 3 * time.Second

// publishTimeout bounds how long the final step waits on the broker.
const publishTimeout = 5 * time.Second

// indexingShare is the share of the progress bar given to the indexing
// phase; pruning fills the rest.
const indexingShare = 80

// Progress describes the outcome of one Step.
type Progress struct {
	Phase     Phase  `json:"phase"`
	Percent   int    `json:"percent"`
	Cursor    uint32 `json:"cursor"`
	Processed int    `json:"processed"`
	Entries   int64  `json:"entries"`
	Done      bool   `json:"done"`
}

// CompleteEvent is published when a build finishes.
type CompleteEvent struct {
	WordSize    string    `json:"word_size"`
	Entries     int64     `json:"entries"`
	StopWords   int       `json:"stop_words"`
	CompletedAt time.Time `json:"completed_at"`
}

// Flusher is implemented by index stores that persist on demand.
type Flusher interface {
	Flush() error
}

// Builder runs index builds. It holds no build state of its own; every Step
// receives and returns the State.
type Builder struct {
	messages  messages.Store
	index     index.Store
	settings  settings.Store
	publisher kafka.Publisher
	defaults  BuildConfig
	budget    time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Builder)

func WithBudget(d time.Duration) Option {
	return func(b *Builder) { b.budget = d }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithDefaults sets the config used when Step starts a fresh build.
func WithDefaults(cfg BuildConfig) Option {
	return func(b *Builder) { b.defaults = cfg.withDefaults() }
}

// WithPublisher announces completed builds.
func WithPublisher(p kafka.Publisher) Option {
	return func(b *Builder) { b.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

func NewBuilder(msgs messages.Store, idx index.Store, st settings.Store, opts ...Option) *Builder {
	b := &Builder{
		messages: msgs,
		index:    idx,
		settings: st,
		defaults: DefaultBuildConfig(),
		budget:   DefaultStepBudget,
		now:      time.Now,
		logger:   slog.Default().With("component", "index-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resume returns the persisted state of the running build, or nil.
func (b *Builder) Resume(ctx context.Context) (*State, error) {
	return LoadState(ctx, b.settings)
}

// Status reports the persisted build position without doing any work.
func (b *Builder) Status(ctx context.Context) (*State, Progress, error) {
	state, err := b.Resume(ctx)
	if err != nil {
		return nil, Progress{}, err
	}
	if state == nil {
		active, err := IsActive(ctx, b.settings)
		if err != nil {
			return nil, Progress{}, err
		}
		if active {
			return &State{Phase: PhaseDone}, Progress{Phase: PhaseDone, Percent: 100, Done: true}, nil
		}
		return nil, Progress{Phase: PhaseNotStarted}, nil
	}
	percent, err := b.percent(ctx, state)
	if err != nil {
		return nil, Progress{}, err
	}
	return state, Progress{Phase: state.Phase, Percent: percent, Cursor: state.Cursor}, nil
}

// Start begins a fresh build: it clears the index, the stop-word list, the
// resume state and the active flag. A build already in progress is only
// discarded when force is set.
func (b *Builder) Start(ctx context.Context, cfg BuildConfig, force bool) (*State, error) {
	current, err := b.Resume(ctx)
	if err != nil {
		return nil, transient("loading resume state", err)
	}
	if current != nil && !force {
		return nil, apperrors.Newf(apperrors.ErrBuildInProgress, http.StatusConflict,
			"build in %s phase at cursor %d", current.Phase, current.Cursor)
	}
	state := &State{Phase: PhaseIndexing, Cursor: 0, Config: cfg.withDefaults()}
	if err := b.settings.Set(ctx, settings.KeyActiveIndex, settings.FormatBool(false)); err != nil {
		return nil, transient("disabling active index", err)
	}
	if err := clearState(ctx, b.settings); err != nil {
		return nil, transient("clearing resume state", err)
	}
	if err := b.settings.Delete(ctx, settings.KeyStopWords); err != nil {
		return nil, transient("clearing stop words", err)
	}
	if err := b.index.Clear(ctx); err != nil {
		return nil, transient("clearing index", err)
	}
	if err := saveState(ctx, b.settings, state); err != nil {
		return nil, transient("saving resume state", err)
	}
	b.logger.Info("index build started",
		"word_size", state.Config.WordSize.Name,
		"batch_size", state.Config.BatchSize,
		"forced", force,
	)
	return state, nil
}

// Step advances the build by at most one time budget. A nil state starts
// a build with the default config. On error nothing is persisted and the
// input state is returned so the caller may retry the same step.
func (b *Builder) Step(ctx context.Context, state *State) (*State, Progress, error) {
	persisted, err := b.Resume(ctx)
	if err != nil {
		return state, Progress{}, transient("loading resume state", err)
	}
	if state.phase() == PhaseDone {
		return state, Progress{Phase: PhaseDone, Percent: 100, Done: true}, nil
	}
	if !persisted.same(state) {
		return state, Progress{}, apperrors.Newf(apperrors.ErrBuildInProgress, http.StatusConflict,
			"stale build state: persisted %s at %d", persisted.phase(), cursorOf(persisted))
	}
	if state == nil {
		if state, err = b.Start(ctx, b.defaults, false); err != nil {
			return nil, Progress{}, err
		}
	}

	deadline := b.now().Add(b.budget)
	var (
		next     *State
		progress Progress
	)
	switch state.Phase {
	case PhaseIndexing:
		next, progress, err = b.indexStep(ctx, state, deadline)
	case PhasePruning:
		next, progress, err = b.pruneStep(ctx, state, deadline)
	default:
		err = fmt.Errorf("unknown build phase %q", state.Phase)
	}
	b.observe(state.Phase, progress, err)
	if err != nil {
		b.logger.Error("build step failed", "phase", state.Phase, "cursor", state.Cursor, "error", err)
		return state, progress, err
	}
	return next, progress, nil
}

func (b *Builder) indexStep(ctx context.Context, state *State, deadline time.Time) (*State, Progress, error) {
	cfg := state.Config
	tok := tokenizer.New(cfg.WordSize)
	cursor := state.Cursor
	processed := 0
	var written int64

	for {
		batch, err := b.messages.Batch(ctx, cursor, cfg.BatchSize)
		if err != nil {
			return nil, Progress{}, transient("fetching messages", err)
		}
		if len(batch) == 0 {
			return b.finishIndexing(ctx, state, processed, written)
		}

		var entries []index.Entry
		outOfTime := false
		for _, msg := range batch {
			for token := range tok.Tokenize(msg.Body, cfg.MaxBytesPerWord, true) {
				entries = append(entries, index.Entry{WordID: token.ID, MessageID: msg.ID})
			}
			cursor = msg.ID + 1
			processed++
			if !b.now().Before(deadline) {
				outOfTime = true
				break
			}
		}
		n, err := b.index.Insert(ctx, index.Dedupe(entries))
		if err != nil {
			return nil, Progress{}, transient("writing index entries", err)
		}
		written += n
		if b.metrics != nil {
			b.metrics.IndexEntriesWritten.Add(float64(n))
		}
		if outOfTime || ctx.Err() != nil {
			break
		}
	}

	next := &State{Phase: PhaseIndexing, Cursor: cursor, Config: cfg}
	if err := b.persist(ctx, next); err != nil {
		return nil, Progress{}, err
	}
	percent, err := b.percent(ctx, next)
	if err != nil {
		return nil, Progress{}, transient("reading message stats", err)
	}
	b.logger.Info("index step complete", "cursor", cursor, "processed", processed, "entries", written, "percent", percent)
	return next, Progress{Phase: PhaseIndexing, Percent: percent, Cursor: cursor, Processed: processed, Entries: written}, nil
}

func (b *Builder) finishIndexing(ctx context.Context, state *State, processed int, written int64) (*State, Progress, error) {
	next := &State{Phase: PhasePruning, Cursor: 0, Config: state.Config}
	if err := b.persist(ctx, next); err != nil {
		return nil, Progress{}, err
	}
	b.logger.Info("indexing phase complete", "processed", processed)
	return next, Progress{Phase: PhasePruning, Percent: indexingShare, Processed: processed, Entries: written}, nil
}

func (b *Builder) pruneStep(ctx context.Context, state *State, deadline time.Time) (*State, Progress, error) {
	cfg := state.Config
	pruner := stopwords.New(b.index, b.settings, b.messages,
		stopwords.WithRatio(cfg.StopWordRatio),
		stopwords.WithClock(b.now),
		stopwords.WithMetrics(b.metrics),
	)
	cols := stopwords.Columns{StepSize: cfg.WordSize.PruneStep, MaxSize: cfg.WordSize.MaxWordID}
	cursor, done, err := pruner.Prune(ctx, state.Cursor, cols, deadline)
	if err != nil {
		return nil, Progress{}, transient("pruning stop words", err)
	}
	if done {
		return b.complete(ctx, state)
	}
	next := &State{Phase: PhasePruning, Cursor: cursor, Config: cfg}
	if err := b.persist(ctx, next); err != nil {
		return nil, Progress{}, err
	}
	percent, err := b.percent(ctx, next)
	if err != nil {
		b.logger.Warn("failed to compute build progress", "phase", PhasePruning, "error", err)
	}
	return next, Progress{Phase: PhasePruning, Percent: percent, Cursor: cursor}, nil
}

func (b *Builder) complete(ctx context.Context, state *State) (*State, Progress, error) {
	if err := b.flush(); err != nil {
		return nil, Progress{}, err
	}
	cfg, err := json.Marshal(state.Config)
	if err != nil {
		return nil, Progress{}, fmt.Errorf("encoding index settings: %w", err)
	}
	if err := b.settings.SetMany(ctx, map[string]string{
		settings.KeyActiveIndex: settings.FormatBool(true),
		settings.KeyIndexConfig: string(cfg),
	}); err != nil {
		return nil, Progress{}, transient("activating index", err)
	}
	if err := clearState(ctx, b.settings); err != nil {
		return nil, Progress{}, transient("clearing resume state", err)
	}

	size, err := b.index.Size(ctx)
	if err != nil {
		b.logger.Warn("failed to read index size after build", "error", err)
	}
	stops, err := stopwords.Load(ctx, b.settings)
	if err != nil {
		b.logger.Warn("failed to read stop words after build", "error", err)
	}
	b.logger.Info("index build complete", "entries", size, "stop_words", len(stops))
	b.publishComplete(ctx, CompleteEvent{
		WordSize:    state.Config.WordSize.Name,
		Entries:     size,
		StopWords:   len(stops),
		CompletedAt: b.now().UTC(),
	})
	return &State{Phase: PhaseDone, Config: state.Config}, Progress{Phase: PhaseDone, Percent: 100, Entries: size, Done: true}, nil
}

func (b *Builder) publishComplete(ctx context.Context, ev CompleteEvent) {
	if b.publisher == nil {
		return
	}
	err := resilience.WithTimeout(ctx, publishTimeout, "publish index.complete", func(ctx context.Context) error {
		return b.publisher.Publish(ctx, kafka.Event{Key: "index.complete", Value: ev})
	})
	if err != nil {
		b.logger.Warn("failed to publish build completion", "error", err)
	}
}

func (b *Builder) persist(ctx context.Context, s *State) error {
	if err := b.flush(); err != nil {
		return err
	}
	if err := saveState(ctx, b.settings, s); err != nil {
		return transient("saving resume state", err)
	}
	return nil
}

func (b *Builder) flush() error {
	if f, ok := b.index.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return transient("flushing index", err)
		}
	}
	return nil
}

// percent maps the cursor onto 0..80 while indexing and 80..100 while
// pruning. It never reports 100 for an unfinished build.
func (b *Builder) percent(ctx context.Context, s *State) (int, error) {
	switch s.Phase {
	case PhaseIndexing:
		stats, err := b.messages.Stats(ctx)
		if err != nil {
			return 0, err
		}
		if stats.Count == 0 || s.Cursor <= stats.MinID {
			return 0, nil
		}
		span := float64(stats.MaxID) - float64(stats.MinID) + 1
		done := float64(s.Cursor) - float64(stats.MinID)
		return min(indexingShare-1, int(indexingShare*done/span)), nil
	case PhasePruning:
		maxID := float64(s.Config.WordSize.MaxWordID)
		if maxID == 0 {
			return indexingShare, nil
		}
		return min(99, indexingShare+int((100-indexingShare)*float64(s.Cursor)/maxID)), nil
	case PhaseDone:
		return 100, nil
	}
	return 0, nil
}

func (b *Builder) observe(phase Phase, p Progress, err error) {
	if b.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, apperrors.ErrBuildInProgress) {
			status = "conflict"
		}
	}
	b.metrics.BuildStepsTotal.WithLabelValues(string(phase), status).Inc()
	if err == nil {
		b.metrics.BuildProgress.Set(float64(p.Percent))
	}
}

func transient(action string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrTransientIndexing, action, err)
}

func cursorOf(s *State) uint32 {
	if s == nil {
		return 0
	}
	return s.Cursor
}
