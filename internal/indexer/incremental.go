package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/stopwords"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// MessageEvent is emitted by the forum whenever a post changes.
type MessageEvent struct {
	Action  Action           `json:"action"`
	Message messages.Message `json:"message"`
}

// Incremental keeps a built index in step with message edits between
// rebuilds.
type Incremental struct {
	index    index.Store
	settings settings.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewIncremental(idx index.Store, st settings.Store, m *metrics.Metrics) *Incremental {
	return &Incremental{
		index:    idx,
		settings: st,
		metrics:  m,
		logger:   slog.Default().With("component", "incremental-indexer"),
	}
}

// Apply re-indexes one message. It reports false when the event was
// skipped: no index exists, or a running build has not reached the
// message yet and will index it itself.
func (u *Incremental) Apply(ctx context.Context, ev MessageEvent) (bool, error) {
	applied, err := u.apply(ctx, ev)
	if u.metrics != nil {
		status := "applied"
		switch {
		case err != nil:
			status = "error"
		case !applied:
			status = "skipped"
		}
		u.metrics.IncrementalUpdates.WithLabelValues(string(ev.Action), status).Inc()
	}
	return applied, err
}

func (u *Incremental) apply(ctx context.Context, ev MessageEvent) (bool, error) {
	switch ev.Action {
	case ActionCreated, ActionUpdated, ActionDeleted:
	default:
		return false, fmt.Errorf("%w: unknown message action %q", apperrors.ErrInvalidInput, ev.Action)
	}
	cfg, ok, err := u.targetConfig(ctx, ev.Message.ID)
	if err != nil || !ok {
		return false, err
	}

	if err := u.index.RemoveMessage(ctx, ev.Message.ID); err != nil {
		return false, transient("removing message entries", err)
	}
	if ev.Action == ActionDeleted {
		u.logger.Debug("message removed from index", "id_msg", ev.Message.ID)
		return true, nil
	}

	stops, err := stopwords.LoadSet(ctx, u.settings)
	if err != nil {
		return false, transient("loading stop words", err)
	}
	tok := tokenizer.New(cfg.WordSize)
	var entries []index.Entry
	for token := range tok.Tokenize(ev.Message.Body, cfg.MaxBytesPerWord, true) {
		if stops.Contains(token.ID) {
			continue
		}
		entries = append(entries, index.Entry{WordID: token.ID, MessageID: ev.Message.ID})
	}
	n, err := u.index.Insert(ctx, index.Dedupe(entries))
	if err != nil {
		return false, transient("writing index entries", err)
	}
	if f, ok := u.index.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return false, transient("flushing index", err)
		}
	}
	u.logger.Debug("message re-indexed", "id_msg", ev.Message.ID, "action", ev.Action, "entries", n)
	return true, nil
}

// targetConfig picks the word layout the message must be indexed with.
func (u *Incremental) targetConfig(ctx context.Context, msgID uint32) (BuildConfig, bool, error) {
	state, err := LoadState(ctx, u.settings)
	if err != nil {
		return BuildConfig{}, false, transient("loading resume state", err)
	}
	if state != nil {
		if state.Phase == PhaseIndexing && msgID >= state.Cursor {
			return BuildConfig{}, false, nil
		}
		return state.Config, true, nil
	}
	active, err := IsActive(ctx, u.settings)
	if err != nil {
		return BuildConfig{}, false, transient("reading active flag", err)
	}
	if !active {
		return BuildConfig{}, false, nil
	}
	cfg, ok, err := LoadIndexConfig(ctx, u.settings)
	if err != nil {
		return BuildConfig{}, false, transient("loading index settings", err)
	}
	if !ok {
		cfg = DefaultBuildConfig()
	}
	return cfg, true, nil
}
