package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/sphinxconf"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

type fakeSearcher struct {
	got  searcher.Input
	resp *searcher.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, in searcher.Input) (*searcher.Response, error) {
	f.got = in
	return f.resp, f.err
}

type fakeCache struct {
	stats   cache.Stats
	deleted int64
	err     error
}

func (f *fakeCache) Stats() cache.Stats { return f.stats }

func (f *fakeCache) Invalidate(context.Context) (int64, error) { return f.deleted, f.err }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSearchParsesParameters(t *testing.T) {
	s := &fakeSearcher{resp: &searcher.Response{Query: "lazy dog", Total: 1}}
	h := New(s, nil)

	url := "/api/v1/search?q=lazy+dog&boards=1,%202&members=7&topic=9&from=100&to=2024-01-02T00:00:00Z" +
		"&sort=oldest&offset=10&limit=5&match=any&subject_only=true&group=1"
	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lazy dog", s.got.Query)
	assert.Equal(t, []uint32{1, 2}, s.got.Filter.BoardIDs)
	assert.Equal(t, []uint32{7}, s.got.Filter.MemberIDs)
	assert.Equal(t, uint32(9), s.got.Filter.TopicID)
	assert.Equal(t, time.Unix(100, 0).UTC(), s.got.Filter.From)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s.got.Filter.To)
	assert.Equal(t, backend.SortOldest, s.got.Sort)
	assert.Equal(t, 10, s.got.Offset)
	assert.Equal(t, 5, s.got.Limit)
	assert.True(t, s.got.MatchAny)
	assert.True(t, s.got.SubjectOnly)
	assert.True(t, s.got.GroupByTopic)
	assert.Equal(t, "lazy dog", decode(t, rec)["query"])
}

func TestSearchRejectsBadParameters(t *testing.T) {
	for _, q := range []string{
		"boards=x",
		"members=1,,2",
		"topic=-1",
		"from=yesterday",
		"sort=random",
		"offset=-3",
		"limit=many",
		"match=some",
	} {
		t.Run(q, func(t *testing.T) {
			s := &fakeSearcher{}
			rec := httptest.NewRecorder()
			New(s, nil).Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=dog&"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
			assert.Empty(t, s.got.Query, "searcher must not be called")
		})
	}
}

func TestSearchMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		hidden bool
	}{
		{fmt.Errorf("sphinx: %w", apperrors.ErrBackendUnavailable), http.StatusServiceUnavailable, false},
		{apperrors.New(apperrors.ErrUnsupported, http.StatusBadRequest, "subject_only"), http.StatusBadRequest, false},
		{fmt.Errorf("rows: %w", apperrors.ErrMalformedResponse), http.StatusBadGateway, false},
		{errors.New("boom"), http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		New(&fakeSearcher{err: tc.err}, nil).Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=dog", nil))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		msg := decode(t, rec)["error"]
		if tc.hidden {
			assert.Equal(t, "internal error", msg)
		} else {
			assert.Equal(t, tc.err.Error(), msg)
		}
	}
}

func TestRejectionIsNotAnError(t *testing.T) {
	s := &fakeSearcher{resp: &searcher.Response{Query: "a", Rejected: "too_short", IgnoredShortWords: []string{"a"}}}
	rec := httptest.NewRecorder()
	New(s, nil).Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=a", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "too_short", body["rejected"])
	assert.Equal(t, []any{"a"}, body["ignored_short_words"])
}

func TestCacheEndpoints(t *testing.T) {
	c := &fakeCache{stats: cache.Stats{Hits: 3, Misses: 1}, deleted: 4}
	h := New(&fakeSearcher{}, c)

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	body := decode(t, rec)
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, "75.0%", body["hit_rate"])

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["keys_deleted"])

	c.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCacheDisabled(t *testing.T) {
	h := New(&fakeSearcher{}, nil)

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	assert.Equal(t, "disabled", decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeBuilder struct {
	state    *indexer.State
	progress indexer.Progress
	stepErr  error
	steps    int
	started  *indexer.BuildConfig
	forced   bool
	startErr error
}

func (f *fakeBuilder) Status(context.Context) (*indexer.State, indexer.Progress, error) {
	return f.state, f.progress, nil
}

func (f *fakeBuilder) Step(_ context.Context, state *indexer.State) (*indexer.State, indexer.Progress, error) {
	f.steps++
	if f.stepErr != nil {
		return state, indexer.Progress{}, f.stepErr
	}
	f.progress = indexer.Progress{Phase: indexer.PhaseIndexing, Percent: f.progress.Percent + 10, Cursor: 50}
	return f.state, f.progress, nil
}

func (f *fakeBuilder) Start(_ context.Context, cfg indexer.BuildConfig, force bool) (*indexer.State, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = &cfg
	f.forced = force
	return &indexer.State{Phase: indexer.PhaseIndexing, Config: cfg}, nil
}

func newAdmin(b Builder, backends backend.Registry) *Admin {
	params := sphinxconf.Params{
		Index:    "forum_index",
		Listen:   "127.0.0.1:9306",
		DataPath: "/var/lib/sphinx",
		LogPath:  "/var/log/sphinx",
		PidFile:  "/var/run/searchd.pid",
		Weights:  relevance.DefaultWeights,
	}
	params.Source.Host = "db"
	params.Source.Port = 5432
	params.Source.Database = "forum"
	return NewAdmin(b, indexer.DefaultBuildConfig(), params, backends)
}

func TestStepAdvancesBuild(t *testing.T) {
	b := &fakeBuilder{state: &indexer.State{Phase: indexer.PhaseIndexing}, progress: indexer.Progress{Phase: indexer.PhaseIndexing, Percent: 20}}
	rec := httptest.NewRecorder()
	newAdmin(b, nil).Step(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/step", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, b.steps)
	body := decode(t, rec)
	assert.Equal(t, float64(30), body["percent"])
	assert.Equal(t, float64(50), body["cursor"])
}

func TestStepLeavesCompletedIndexAlone(t *testing.T) {
	b := &fakeBuilder{state: &indexer.State{Phase: indexer.PhaseDone}, progress: indexer.Progress{Phase: indexer.PhaseDone, Percent: 100, Done: true}}
	rec := httptest.NewRecorder()
	newAdmin(b, nil).Step(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/step", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, b.steps)
	assert.Equal(t, true, decode(t, rec)["done"])
}

func TestStepFailureReportsFrozenProgress(t *testing.T) {
	b := &fakeBuilder{
		state:    &indexer.State{Phase: indexer.PhaseIndexing, Cursor: 40},
		progress: indexer.Progress{Phase: indexer.PhaseIndexing, Percent: 40, Cursor: 40},
		stepErr:  fmt.Errorf("insert: %w", apperrors.ErrTransientIndexing),
	}
	rec := httptest.NewRecorder()
	newAdmin(b, nil).Step(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/step", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(40), body["percent"])
	assert.Equal(t, true, body["retryable"])
	assert.Contains(t, body["error"], "transient indexing failure")
}

func TestRebuild(t *testing.T) {
	b := &fakeBuilder{}
	rec := httptest.NewRecorder()
	newAdmin(b, nil).Rebuild(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild?word_size=small&batch_size=50&force=true", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, b.started)
	assert.Equal(t, tokenizer.Small, b.started.WordSize)
	assert.Equal(t, 50, b.started.BatchSize)
	assert.True(t, b.forced)
}

func TestRebuildErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	newAdmin(&fakeBuilder{}, nil).Rebuild(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild?word_size=huge", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newAdmin(&fakeBuilder{}, nil).Rebuild(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild?batch_size=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	busy := &fakeBuilder{startErr: apperrors.New(apperrors.ErrBuildInProgress, http.StatusConflict, "build in indexing phase")}
	rec = httptest.NewRecorder()
	newAdmin(busy, nil).Rebuild(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatus(t *testing.T) {
	b := &fakeBuilder{progress: indexer.Progress{Phase: indexer.PhaseNotStarted}}
	rec := httptest.NewRecorder()
	newAdmin(b, nil).Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/index/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Nil(t, body["state"])
	assert.Equal(t, string(indexer.PhaseNotStarted), body["progress"].(map[string]any)["phase"])
}

func TestSphinxConfigDownload(t *testing.T) {
	rec := httptest.NewRecorder()
	newAdmin(&fakeBuilder{}, nil).SphinxConfig(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sphinx/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="sphinx.conf"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "index forum_index")
}

type readyBackend struct {
	name  string
	caps  backend.Capabilities
	ready error
}

func (b readyBackend) Name() string { return b.name }
func (b readyBackend) Capabilities() backend.Capabilities { return b.caps }
func (b readyBackend) Ready(context.Context) error { return b.ready }
func (b readyBackend) PrepareTerm(t parser.Term) []string { return []string{t.Text} }
func (b readyBackend) Execute(context.Context, backend.Request) (*backend.Results, error) {
	return &backend.Results{}, nil
}

func TestBackends(t *testing.T) {
	reg := backend.Registry{
		"sphinx": readyBackend{name: "sphinx", ready: apperrors.New(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "daemon unreachable")},
		"native": readyBackend{name: "native", caps: backend.NewCapabilities(backend.CapPhrases, backend.CapMatchAny)},
	}
	rec := httptest.NewRecorder()
	newAdmin(&fakeBuilder{}, reg).Backends(rec, httptest.NewRequest(http.MethodGet, "/api/v1/backends", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out []backendInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, backendInfo{Name: "native", Capabilities: []string{"phrases", "match_any"}, Ready: true}, out[0])
	assert.Equal(t, "sphinx", out[1].Name)
	assert.False(t, out[1].Ready)
	assert.Equal(t, "daemon unreachable", out[1].Reason)
}
