// Package searcher runs a raw search string through the parser and the
// selected backend, recording metrics and analytics for every outcome.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/tracing"
)

// Input is a search as the forum layer submits it.
type Input struct {
	Query        string
	MatchAny     bool
	SubjectOnly  bool
	GroupByTopic bool
	Filter       messages.Filter
	Sort         backend.Sort
	Offset       int
	Limit        int
}

// Response carries either results or the reason the query was rejected.
// A rejection is not an error.
type Response struct {
	Query             string           `json:"query"`
	Backend           string           `json:"backend,omitempty"`
	Rejected          string           `json:"rejected,omitempty"`
	IgnoredShortWords []string         `json:"ignored_short_words,omitempty"`
	FoundBlacklisted  bool             `json:"found_blacklisted,omitempty"`
	Total             int              `json:"total"`
	Offset            int              `json:"offset"`
	Results           []backend.Result `json:"results"`
	Cached            bool             `json:"cached"`
	LatencyMs         int64            `json:"latency_ms"`
}

type Options struct {
	Backend        string
	Blacklist      []string
	SimpleFulltext bool
	DefaultLimit   int
	MaxResults     int
}

type Service struct {
	backends  backend.Registry
	settings  settings.Store
	opts      Options
	collector *analytics.Collector
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// New builds the service. settings may be nil; otherwise its
// search_backend key overrides opts.Backend on every request.
func New(backends backend.Registry, st settings.Store, opts Options, collector *analytics.Collector, m *metrics.Metrics) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 30
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 200
	}
	if opts.Blacklist == nil {
		opts.Blacklist = parser.DefaultBlacklist
	}
	opts.Blacklist = parser.NormalizeBlacklist(opts.Blacklist)
	return &Service{
		backends:  backends,
		settings:  st,
		opts:      opts,
		collector: collector,
		metrics:   m,
		now:       time.Now,
		logger:    slog.Default().With("component", "searcher"),
	}
}

// BackendName resolves the backend for the current request.
func (s *Service) BackendName(ctx context.Context) string {
	if s.settings != nil {
		v, ok, err := s.settings.Get(ctx, settings.KeySearchBackend)
		if err != nil {
			s.logger.Warn("reading backend override failed", "error", err)
		} else if ok && v != "" {
			return v
		}
	}
	return s.opts.Backend
}

// Backend returns the selected driver.
func (s *Service) Backend(ctx context.Context) (backend.Backend, error) {
	return s.backends.Select(s.BackendName(ctx))
}

func (s *Service) Search(ctx context.Context, in Input) (*Response, error) {
	start := s.now()
	log := logger.FromContext(ctx)
	ctx, span := tracing.Start(ctx, "search")
	defer span.End()

	limit := in.Limit
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	limit = min(limit, s.opts.MaxResults)
	if in.Offset < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must not be negative")
	}

	_, parseSpan := tracing.Start(ctx, "parse")
	q := parser.Parse(in.Query, s.opts.Blacklist, s.opts.SimpleFulltext)
	parseSpan.SetAttr("included", len(q.Included))
	parseSpan.SetAttr("excluded", len(q.Excluded))
	parseSpan.End()
	resp := &Response{
		Query:             in.Query,
		IgnoredShortWords: q.IgnoredShortWords,
		FoundBlacklisted:  q.FoundBlacklisted,
		Offset:            in.Offset,
		Results:           []backend.Result{},
	}
	event := analytics.SearchEvent{Query: in.Query, Terms: q.Words(), RequestID: logger.RequestID(ctx)}

	if rej := q.Rejection(); rej != parser.NotRejected {
		resp.Rejected = rej.String()
		event.Type = analytics.EventRejected
		event.Rejection = rej.String()
		s.finish(resp, &event, start, "none", "rejected")
		log.Info("search rejected", "query", in.Query, "reason", rej.String())
		return resp, nil
	}

	b, err := s.Backend(ctx)
	if err != nil {
		event.Type = analytics.EventUnavailable
		s.finish(resp, &event, start, s.BackendName(ctx), "unavailable")
		return nil, err
	}
	resp.Backend = b.Name()
	span.SetAttr("backend", b.Name())

	execCtx, execSpan := tracing.Start(ctx, "execute")
	res, err := b.Execute(execCtx, backend.Request{
		Query:        q,
		MatchAny:     in.MatchAny,
		SubjectOnly:  in.SubjectOnly,
		GroupByTopic: in.GroupByTopic,
		Filter:       in.Filter,
		Sort:         in.Sort,
		Offset:       in.Offset,
		Limit:        limit,
	})
	execSpan.End()
	if err != nil {
		outcome := "error"
		event.Type = analytics.EventError
		if errors.Is(err, apperrors.ErrBackendUnavailable) {
			outcome = "unavailable"
			event.Type = analytics.EventUnavailable
		}
		s.finish(resp, &event, start, b.Name(), outcome)
		log.Error("search failed", "query", in.Query, "backend", b.Name(), "error", err)
		return nil, fmt.Errorf("searching with %s backend: %w", b.Name(), err)
	}

	resp.Total = res.Total
	resp.Results = res.Items
	resp.Cached = res.Cached
	event.Type = analytics.EventSearch
	outcome := "ok"
	if res.Total == 0 {
		event.Type = analytics.EventZeroResult
		outcome = "zero_result"
	}
	event.TotalHits = res.Total
	event.Returned = len(res.Items)
	event.CacheHit = res.Cached
	s.finish(resp, &event, start, b.Name(), outcome)

	log.Info("search completed",
		"query", in.Query,
		"backend", b.Name(),
		"total_hits", res.Total,
		"returned", len(res.Items),
		"cache_hit", res.Cached,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

func (s *Service) finish(resp *Response, event *analytics.SearchEvent, start time.Time, backendName, outcome string) {
	elapsed := s.now().Sub(start)
	resp.LatencyMs = elapsed.Milliseconds()
	event.Backend = backendName
	event.LatencyMs = resp.LatencyMs
	event.Timestamp = s.now().UTC()
	if s.metrics != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues(backendName, outcome).Inc()
		if outcome == "ok" || outcome == "zero_result" {
			cacheStatus := "miss"
			if resp.Cached {
				cacheStatus = "hit"
			}
			s.metrics.SearchLatency.WithLabelValues(backendName, cacheStatus).Observe(elapsed.Seconds())
			s.metrics.SearchResultsCount.Observe(float64(resp.Total))
		}
	}
	if s.collector != nil {
		s.collector.Track(*event)
	}
}
