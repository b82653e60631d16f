package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryClassifiesSamples(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 10; i++ {
		s.Record(Sample{Latency: time.Duration(i) * time.Millisecond, Status: 200, Total: 3, Cached: i%2 == 0})
	}
	s.Record(Sample{Latency: time.Millisecond, Status: 200})
	s.Record(Sample{Latency: time.Millisecond, Status: 200, Rejected: true})
	s.Record(Sample{Latency: time.Millisecond, Status: 503})
	s.Record(Sample{Latency: time.Millisecond, Err: errors.New("refused")})
	s.Record(Sample{Aborted: true})

	sum := s.Summary(2 * time.Second)
	assert.Equal(t, 14, sum.Requests)
	assert.Equal(t, int64(10), sum.Hits)
	assert.Equal(t, int64(5), sum.Cached)
	assert.Equal(t, int64(1), sum.ZeroResults)
	assert.Equal(t, int64(1), sum.Rejected)
	assert.Equal(t, int64(2), sum.Errors)
	assert.Equal(t, map[int]int64{200: 12, 503: 1}, sum.StatusCodes)
	assert.Equal(t, 7.0, sum.RPS)
	assert.Equal(t, time.Millisecond, sum.Min)
	assert.Equal(t, 10*time.Millisecond, sum.Max)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printReport(&out, Summary{Requests: 4, Hits: 3, Errors: 1, StatusCodes: map[int]int64{200: 3, 500: 1}}))
	assert.Contains(t, out.String(), "75.0%")
	assert.Contains(t, out.String(), "status 500")
}

func TestRunLoadTestSendsKeyAndQueries(t *testing.T) {
	seen := make(chan string, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		select {
		case seen <- r.URL.Query().Get("q"):
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total":2,"cached":true}`))
	}))
	defer srv.Close()

	stats, err := runLoadTest(context.Background(), Config{
		BaseURL:     srv.URL,
		APIKey:      "secret",
		Concurrency: 1,
		Duration:    100 * time.Millisecond,
		Queries:     defaultQueries(),
	})
	require.NoError(t, err)
	sum := stats.Summary(100 * time.Millisecond)
	require.Positive(t, sum.Requests)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, sum.Hits, sum.Cached)
	assert.Equal(t, "graphics card drivers", <-seen)
}
