package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceLabelsSeries(t *testing.T) {
	m, reg := NewService("searcher")
	m.SearchQueriesTotal.WithLabelValues("native", "ok").Inc()
	m.BuildProgress.Set(40)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `search_queries_total{backend="native",outcome="ok",service="searcher"} 1`)
	assert.Contains(t, body, `service="searcher"} 40`)
	assert.Contains(t, body, "go_goroutines")
}

func TestNewUnregisteredIsolated(t *testing.T) {
	a := NewUnregistered()
	b := NewUnregistered()
	a.CacheHitsTotal.Inc()
	assert.NotSame(t, a.CacheHitsTotal, b.CacheHitsTotal)
}
