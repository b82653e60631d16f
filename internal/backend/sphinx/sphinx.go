// Package sphinx delegates searches to an external Sphinx daemon over
// SphinxQL. The daemon index is generated by package sphinxconf and stores
// the relevance attribute this package ranks by.
package sphinx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/sphinxconf"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/resilience"
)

const Name = "sphinx"

// ResultCache holds full ranked lists by key.
type ResultCache interface {
	GetOrCompute(ctx context.Context, key string, compute func() (*backend.Results, error)) (*backend.Results, bool, error)
}

// Backend runs searches on searchd.
type Backend struct {
	conn         Conn
	index        string
	maxMatches   int
	fieldWeights config.SphinxFieldWeights
	weights      relevance.Weights
	pingTimeout  time.Duration
	queryTimeout time.Duration
	breaker      *resilience.CircuitBreaker
	cache        ResultCache
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Backend)

func WithCache(c ResultCache) Option {
	return func(b *Backend) { b.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// New builds the driver. A nil conn yields a backend that is never ready.
func New(conn Conn, cfg config.SphinxConfig, opts ...Option) (*Backend, error) {
	if !sphinxconf.ValidIndexName(cfg.Index) {
		return nil, fmt.Errorf("%w: invalid sphinx index name %q", apperrors.ErrInvalidInput, cfg.Index)
	}
	b := &Backend{
		conn:         conn,
		index:        cfg.Index,
		maxMatches:   cfg.MaxMatches,
		fieldWeights: cfg.FieldWeights,
		weights:      relevance.FromConfig(cfg.Weights).Normalize(),
		pingTimeout:  cfg.ConnectTimeout,
		queryTimeout: cfg.QueryTimeout,
		logger:       slog.Default().With("component", "sphinx-backend"),
	}
	if b.maxMatches <= 0 {
		b.maxMatches = 1000
	}
	if b.pingTimeout <= 0 {
		b.pingTimeout = 2 * time.Second
	}
	if b.queryTimeout <= 0 {
		b.queryTimeout = 5 * time.Second
	}
	b.fieldWeights.Subject = max(b.fieldWeights.Subject, 1)
	b.fieldWeights.Body = max(b.fieldWeights.Body, 1)
	for _, opt := range opts {
		opt(b)
	}
	b.breaker = resilience.NewCircuitBreaker("sphinx", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        isConnectionFailure,
		OnStateChange: func(name string, to resilience.State) {
			if b.metrics != nil {
				b.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return b, nil
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return Name }

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.NewCapabilities(
		backend.CapSubjectOnly,
		backend.CapRelevanceSort,
		backend.CapPhrases,
		backend.CapMatchAny,
		backend.CapGroupByTopic,
		backend.CapMemberFilter,
		backend.CapDateFilter,
	)
}

func (b *Backend) Ready(ctx context.Context) error {
	if b.conn == nil {
		return apperrors.New(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "sphinx is not configured")
	}
	err := b.breaker.Execute(func() error {
		pctx, cancel := context.WithTimeout(ctx, b.pingTimeout)
		defer cancel()
		return b.conn.Ping(pctx)
	})
	if err != nil {
		return apperrors.Newf(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "sphinx unreachable: %v", err)
	}
	return nil
}

func (b *Backend) PrepareTerm(t parser.Term) []string {
	return renderTerm(t)
}

func (b *Backend) Execute(ctx context.Context, req backend.Request) (*backend.Results, error) {
	if err := backend.Check(b, req); err != nil {
		return nil, err
	}
	if b.conn == nil {
		return nil, apperrors.New(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "sphinx is not configured")
	}
	match := MatchExpression(req)
	if match == "" {
		return &backend.Results{Backend: Name, Items: []backend.Result{}}, nil
	}

	compute := func() (*backend.Results, error) { return b.search(ctx, req, match) }
	var (
		full   *backend.Results
		cached bool
		err    error
	)
	if b.cache != nil {
		full, cached, err = b.cache.GetOrCompute(ctx, Name+":"+req.Fingerprint(), compute)
	} else {
		full, err = compute()
	}
	if err != nil {
		return nil, err
	}
	return &backend.Results{
		Backend: Name,
		Total:   full.Total,
		Items:   backend.Page(full.Items, req.Offset, req.Limit),
		Cached:  cached,
	}, nil
}

// search fetches the full ranked list, up to max_matches.
func (b *Backend) search(ctx context.Context, req backend.Request, match string) (*backend.Results, error) {
	query, args := b.statement(req, match)
	var resp *Response
	err := b.breaker.Execute(func() error {
		qctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
		defer cancel()
		var err error
		resp, err = b.conn.Search(qctx, query, args...)
		return err
	})
	if err != nil {
		return nil, b.classify(err)
	}
	if resp == nil {
		return nil, apperrors.New(apperrors.ErrMalformedResponse, http.StatusBadGateway, "empty sphinx response")
	}

	items := make([]backend.Result, 0, len(resp.Rows))
	for i, row := range resp.Rows {
		item, err := b.result(row)
		if err != nil {
			b.logger.Error("malformed sphinx row", "row", i, "match", match, "error", err)
			return nil, apperrors.Newf(apperrors.ErrMalformedResponse, http.StatusBadGateway, "row %d: %v", i, err)
		}
		items = append(items, item)
	}
	b.logger.Debug("sphinx query executed",
		"match", match,
		"results", len(items),
		"total_found", resp.Meta["total_found"],
		"time", resp.Meta["time"],
	)
	return &backend.Results{Backend: Name, Total: len(items), Items: items}, nil
}

// result maps a row onto a Result. The score is recomputed from the raw
// attributes with the configured weights.
func (b *Backend) result(row Row) (backend.Result, error) {
	var (
		p   rowParser
		res backend.Result
		a   relevance.Attributes
	)
	res.MessageID = p.uint32(row, "id")
	res.TopicID = p.uint32(row, sphinxconf.AttrTopic)
	res.Matches = p.int(row, "matches")
	a.MessageID = res.MessageID
	a.Replies = p.int(row, sphinxconf.AttrReplies)
	a.Likes = p.int(row, sphinxconf.AttrLikes)
	a.FirstMessage = p.int(row, sphinxconf.AttrFirst) != 0
	a.Sticky = p.int(row, sphinxconf.AttrSticky) != 0
	a.MinMessageID = p.uint32(row, sphinxconf.AttrMinMsg)
	a.MaxMessageID = p.uint32(row, sphinxconf.AttrMaxMsg)
	if p.err != nil {
		return backend.Result{}, p.err
	}
	if res.MessageID == 0 {
		return backend.Result{}, errors.New("zero document id")
	}
	res.Score = float64(relevance.Relevance(a, b.weights)) / 100
	return res, nil
}

type rowParser struct {
	err error
}

func (p *rowParser) uint32(row Row, col string) uint32 {
	if p.err != nil {
		return 0
	}
	v, ok := row[col]
	if !ok {
		p.err = fmt.Errorf("missing column %q", col)
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.err = fmt.Errorf("column %q: %w", col, err)
		return 0
	}
	return uint32(n)
}

func (p *rowParser) int(row Row, col string) int {
	return int(p.uint32(row, col))
}

func (b *Backend) classify(err error) error {
	var myErr *mysql.MySQLError
	switch {
	case errors.As(err, &myErr):
		b.logger.Error("sphinx rejected query", "code", myErr.Number, "error", myErr.Message)
		return apperrors.Newf(apperrors.ErrMalformedResponse, http.StatusBadGateway, "sphinx error %d: %s", myErr.Number, myErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.New(apperrors.ErrTimeout, http.StatusServiceUnavailable, "sphinx query timed out")
	default:
		b.logger.Warn("sphinx unavailable", "error", err, "circuit", b.breaker.GetState().String())
		return apperrors.Newf(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "sphinx unreachable: %v", err)
	}
}

// isConnectionFailure counts errors that say nothing about the query
// itself against the circuit.
func isConnectionFailure(err error) bool {
	var myErr *mysql.MySQLError
	return !errors.As(err, &myErr)
}
