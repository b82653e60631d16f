// Package native serves searches from the word -> message index built by
// the indexer.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/stopwords"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

const Name = "native"

// DefaultMaxCandidates bounds how many matching messages are loaded from
// the message store per query.
const DefaultMaxCandidates = 5000

// Backend intersects index postings and filters the survivors through the
// message store.
type Backend struct {
	index         index.Store
	messages      messages.Store
	settings      settings.Store
	maxCandidates int
	config        atomic.Pointer[indexer.BuildConfig]
	logger        *slog.Logger
}

func New(idx index.Store, msgs messages.Store, st settings.Store, maxCandidates int) *Backend {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Backend{
		index:         idx,
		messages:      msgs,
		settings:      st,
		maxCandidates: maxCandidates,
		logger:        slog.Default().With("component", "native-backend"),
	}
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return Name }

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.NewCapabilities(
		backend.CapPhrases,
		backend.CapMatchAny,
		backend.CapGroupByTopic,
		backend.CapMemberFilter,
		backend.CapDateFilter,
	)
}

// Ready fails while no index has been completed, including for the whole
// duration of a rebuild.
func (b *Backend) Ready(ctx context.Context) error {
	active, err := indexer.IsActive(ctx, b.settings)
	if err != nil {
		return fmt.Errorf("%w: reading index state: %v", apperrors.ErrBackendUnavailable, err)
	}
	if !active {
		return apperrors.New(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "search index is not built")
	}
	return nil
}

// PrepareTerm returns the index words of a term.
func (b *Backend) PrepareTerm(t parser.Term) []string {
	cfg := b.buildConfig()
	return tokenizer.New(cfg.WordSize).Words(t.Text, cfg.MaxBytesPerWord)
}

func (b *Backend) buildConfig() indexer.BuildConfig {
	if cfg := b.config.Load(); cfg != nil {
		return *cfg
	}
	return indexer.DefaultBuildConfig()
}

func (b *Backend) loadConfig(ctx context.Context) (indexer.BuildConfig, error) {
	cfg, ok, err := indexer.LoadIndexConfig(ctx, b.settings)
	if err != nil {
		return indexer.BuildConfig{}, err
	}
	if !ok {
		cfg = indexer.DefaultBuildConfig()
	}
	b.config.Store(&cfg)
	return cfg, nil
}

// termSet is one AND-group: messages in postings that also contain every
// phrase.
type termSet struct {
	postings *roaring.Bitmap
	phrases  []string
	size     int
}

type query struct {
	tok   *tokenizer.Tokenizer
	cfg   indexer.BuildConfig
	stops stopwords.Set
}

func (b *Backend) Execute(ctx context.Context, req backend.Request) (*backend.Results, error) {
	if err := backend.Check(b, req); err != nil {
		return nil, err
	}
	if err := b.Ready(ctx); err != nil {
		return nil, err
	}
	cfg, err := b.loadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading index settings: %w", err)
	}
	stops, err := stopwords.LoadSet(ctx, b.settings)
	if err != nil {
		return nil, err
	}
	q := query{tok: tokenizer.New(cfg.WordSize), cfg: cfg, stops: stops}

	var sets []termSet
	candidates := roaring.New()
	for _, terms := range req.Sets() {
		set, ok, err := b.resolveSet(ctx, q, terms)
		if err != nil {
			return nil, err
		}
		if ok {
			sets = append(sets, set)
			candidates.Or(set.postings)
		}
	}

	var excludedPhrases []string
	for _, t := range req.Excluded() {
		words := b.indexWords(q, t)
		if len(words) == 0 {
			// Stop words have no postings; match them in the body instead.
			if len(q.tok.Words(t.Text, cfg.MaxBytesPerWord)) > 0 {
				excludedPhrases = append(excludedPhrases, phraseKey(q, t.Text))
			}
			continue
		}
		if len(words) == 1 && !t.Phrase {
			bm, err := b.index.Lookup(ctx, words[0])
			if err != nil {
				return nil, fmt.Errorf("looking up excluded term %q: %w", t.Text, err)
			}
			candidates.AndNot(bm)
			continue
		}
		excludedPhrases = append(excludedPhrases, phraseKey(q, t.Text))
	}

	msgs, err := b.fetchCandidates(ctx, candidates, req)
	if err != nil {
		return nil, err
	}

	found := make([]hit, 0, len(msgs))
	for _, m := range msgs {
		body := " " + strings.Join(q.tok.Words(m.Body, cfg.MaxBytesPerWord), " ") + " "
		if containsAny(body, excludedPhrases) {
			continue
		}
		matches := 0
		for _, s := range sets {
			if s.postings.Contains(m.ID) && containsAll(body, s.phrases) {
				matches = max(matches, s.size)
			}
		}
		if matches == 0 {
			continue
		}
		found = append(found, hit{
			Result: backend.Result{MessageID: m.ID, TopicID: m.TopicID, Matches: matches},
			posted: m.PostedAt.Unix(),
		})
	}

	items := sortResults(found, req.Sort)
	if req.GroupByTopic {
		items = firstPerTopic(items)
	}
	b.logger.Debug("native query executed",
		"query", rawQuery(req),
		"sets", len(sets),
		"candidates", candidates.GetCardinality(),
		"results", len(items),
	)
	return &backend.Results{
		Backend: Name,
		Total:   len(items),
		Items:   backend.Page(items, req.Offset, req.Limit),
	}, nil
}

// resolveSet intersects the postings of every term. Terms made only of
// stop words or too-short fragments place no constraint; a set left
// without any constraint matches nothing.
func (b *Backend) resolveSet(ctx context.Context, q query, terms []parser.Term) (termSet, bool, error) {
	set := termSet{size: len(terms)}
	for _, t := range terms {
		words := b.indexWords(q, t)
		if len(words) == 0 {
			continue
		}
		var bm *roaring.Bitmap
		if len(words) == 1 && !t.Phrase {
			var err error
			if bm, err = b.index.Lookup(ctx, words[0]); err != nil {
				return termSet{}, false, fmt.Errorf("looking up term %q: %w", t.Text, err)
			}
		} else {
			parts := make([]*roaring.Bitmap, 0, len(words))
			for _, w := range words {
				p, err := b.index.Lookup(ctx, w)
				if err != nil {
					return termSet{}, false, fmt.Errorf("looking up phrase word of %q: %w", t.Text, err)
				}
				parts = append(parts, p)
			}
			bm = roaring.FastOr(parts...)
			set.phrases = append(set.phrases, phraseKey(q, t.Text))
		}
		if set.postings == nil {
			set.postings = bm
		} else {
			set.postings.And(bm)
		}
	}
	if set.postings == nil {
		return termSet{}, false, nil
	}
	return set, true, nil
}

// indexWords returns the distinct non-stop word ids of a term.
func (b *Backend) indexWords(q query, t parser.Term) []uint32 {
	var ids []uint32
	for tok := range q.tok.Tokenize(t.Text, q.cfg.MaxBytesPerWord, true) {
		if q.stops.Contains(tok.ID) || containsID(ids, tok.ID) {
			continue
		}
		ids = append(ids, tok.ID)
	}
	return ids
}

func phraseKey(q query, text string) string {
	return " " + strings.Join(q.tok.Words(text, q.cfg.MaxBytesPerWord), " ") + " "
}

// fetchCandidates loads candidates in the requested order, applying the
// request filter chunk by chunk, until maxCandidates messages have passed
// it or the postings run out.
func (b *Backend) fetchCandidates(ctx context.Context, candidates *roaring.Bitmap, req backend.Request) ([]messages.Message, error) {
	var it roaring.IntIterable = candidates.ReverseIterator()
	if req.Sort == backend.SortOldest {
		it = candidates.Iterator()
	}
	var out []messages.Message
	chunk := make([]uint32, 0, min(b.maxCandidates, int(candidates.GetCardinality())))
	for it.HasNext() && len(out) < b.maxCandidates {
		chunk = chunk[:0]
		for it.HasNext() && len(chunk) < b.maxCandidates {
			chunk = append(chunk, it.Next())
		}
		msgs, err := b.messages.Fetch(ctx, chunk, req.Filter)
		if err != nil {
			return nil, fmt.Errorf("fetching candidate messages: %w", err)
		}
		out = append(out, msgs...)
	}
	return out, nil
}

type hit struct {
	backend.Result
	posted int64
}

// sortResults orders by post time, breaking ties by ascending id.
func sortResults(hits []hit, order backend.Sort) []backend.Result {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.posted != b.posted {
			if order == backend.SortOldest {
				return a.posted < b.posted
			}
			return a.posted > b.posted
		}
		return a.MessageID < b.MessageID
	})
	items := make([]backend.Result, len(hits))
	for i, h := range hits {
		items[i] = h.Result
	}
	return items
}

func firstPerTopic(items []backend.Result) []backend.Result {
	seen := make(map[uint32]struct{})
	out := items[:0]
	for _, it := range items {
		if _, dup := seen[it.TopicID]; dup {
			continue
		}
		seen[it.TopicID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func containsAll(body string, phrases []string) bool {
	for _, p := range phrases {
		if !strings.Contains(body, p) {
			return false
		}
	}
	return true
}

func containsAny(body string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(body, p) {
			return true
		}
	}
	return false
}

func containsID(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func rawQuery(req backend.Request) string {
	if req.Query == nil {
		return ""
	}
	return req.Query.Raw
}
