// Package stopwords finds words that occur in too many messages, records
// them on the stop-word list and removes their index entries.
package stopwords

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

// DefaultRatio flags words present in more than 60% of all messages.
const DefaultRatio = 0.60

// Columns bounds the word-id sweep.
type Columns struct {
	StepSize uint32
	MaxSize  uint32
}

// Pruner sweeps the word-id space in StepSize ranges.
type Pruner struct {
	index    index.Store
	settings settings.Store
	messages messages.Store
	ratio    float64
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option customizes a Pruner.
type Option func(*Pruner)

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) { p.now = now }
}

func WithRatio(ratio float64) Option {
	return func(p *Pruner) {
		if ratio > 0 && ratio <= 1 {
			p.ratio = ratio
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pruner) { p.metrics = m }
}

func New(idx index.Store, st settings.Store, msgs messages.Store, opts ...Option) *Pruner {
	p := &Pruner{
		index:    idx,
		settings: st,
		messages: msgs,
		ratio:    DefaultRatio,
		now:      time.Now,
		logger:   slog.Default().With("component", "stopword-pruner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Threshold is the message count a word must exceed to be pruned.
func Threshold(total int64, ratio float64) uint64 {
	return uint64(math.Ceil(ratio * float64(total)))
}

// Prune processes ranges starting at cursor until deadline passes or the
// sweep moves beyond cols.MaxSize. At least one range is processed per call.
// Errors leave the cursor where the failing range began.
func (p *Pruner) Prune(ctx context.Context, cursor uint32, cols Columns, deadline time.Time) (uint32, bool, error) {
	if cols.StepSize == 0 {
		return cursor, false, fmt.Errorf("prune step size must be positive")
	}
	stats, err := p.messages.Stats(ctx)
	if err != nil {
		return cursor, false, fmt.Errorf("counting messages: %w", err)
	}
	threshold := Threshold(stats.Count, p.ratio)

	next := uint64(cursor)
	for {
		if err := ctx.Err(); err != nil {
			return uint32(next), false, err
		}
		from := next
		to := min(from+uint64(cols.StepSize), math.MaxUint32)
		if err := p.pruneRange(ctx, uint32(from), uint32(to), threshold); err != nil {
			return uint32(from), false, err
		}
		next = from + uint64(cols.StepSize)
		if next > uint64(cols.MaxSize) {
			return uint32(min(next, math.MaxUint32)), true, nil
		}
		if !p.now().Before(deadline) {
			return uint32(next), false, nil
		}
	}
}

func (p *Pruner) pruneRange(ctx context.Context, from, to uint32, threshold uint64) error {
	counts, err := p.index.CountWords(ctx, from, to)
	if err != nil {
		return fmt.Errorf("counting words in [%d, %d): %w", from, to, err)
	}
	var common []uint32
	for _, c := range counts {
		if c.Messages > threshold {
			common = append(common, c.WordID)
		}
	}
	if len(common) == 0 {
		return nil
	}
	// Record first so an interrupted delete is redone on the next pass.
	total, err := p.appendStopWords(ctx, common)
	if err != nil {
		return err
	}
	removed, err := p.index.DeleteWords(ctx, common)
	if err != nil {
		return fmt.Errorf("deleting stop words: %w", err)
	}
	if p.metrics != nil {
		p.metrics.StopWordsTotal.Set(float64(total))
	}
	p.logger.Info("stop words pruned",
		"from", from,
		"to", to,
		"words", len(common),
		"entries_removed", removed,
		"threshold", threshold,
	)
	return nil
}

func (p *Pruner) appendStopWords(ctx context.Context, ids []uint32) (int, error) {
	current, err := Load(ctx, p.settings)
	if err != nil {
		return 0, err
	}
	merged := current
	for _, id := range ids {
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	if len(merged) == len(current) {
		return len(merged), nil
	}
	if err := p.settings.Set(ctx, settings.KeyStopWords, settings.FormatIDList(merged)); err != nil {
		return 0, fmt.Errorf("saving stop words: %w", err)
	}
	return len(merged), nil
}

// Load returns the persisted stop-word ids in the order they were added.
func Load(ctx context.Context, st settings.Store) ([]uint32, error) {
	v, ok, err := st.Get(ctx, settings.KeyStopWords)
	if err != nil {
		return nil, fmt.Errorf("loading stop words: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return settings.ParseIDList(v), nil
}

// Set is a lookup view of the stop-word list.
type Set map[uint32]struct{}

func LoadSet(ctx context.Context, st settings.Store) (Set, error) {
	ids, err := Load(ctx, st)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s Set) Contains(id uint32) bool {
	_, ok := s[id]
	return ok
}
