package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Sample is the outcome of one search request.
type Sample struct {
	Latency  time.Duration
	Status   int
	Err      error
	Total    int
	Cached   bool
	Rejected bool
	Aborted  bool // cut off by the end of the run, not counted
}

type Stats struct {
	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	errors      int64
	hits        int64
	zeroResults int64
	cached      int64
	rejected    int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) Record(sample Sample) {
	if sample.Aborted {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, sample.Latency)
	if sample.Err != nil || sample.Status == 0 {
		s.errors++
		return
	}
	s.statusCodes[sample.Status]++
	if sample.Status != 200 {
		s.errors++
		return
	}
	switch {
	case sample.Rejected:
		s.rejected++
	case sample.Total == 0:
		s.zeroResults++
	default:
		s.hits++
	}
	if sample.Cached {
		s.cached++
	}
}

func (s *Stats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latencies)
}

// Summary is the aggregated report of a run.
type Summary struct {
	Requests    int
	Errors      int64
	Hits        int64
	ZeroResults int64
	Cached      int64
	Rejected    int64
	RPS         float64
	Min, Avg    time.Duration
	P50, P90    time.Duration
	P95, P99    time.Duration
	Max         time.Duration
	StatusCodes map[int]int64
}

func (s *Stats) Summary(elapsed time.Duration) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Requests:    len(s.latencies),
		Errors:      s.errors,
		Hits:        s.hits,
		ZeroResults: s.zeroResults,
		Cached:      s.cached,
		Rejected:    s.rejected,
		StatusCodes: make(map[int]int64, len(s.statusCodes)),
	}
	for code, n := range s.statusCodes {
		sum.StatusCodes[code] = n
	}
	if elapsed > 0 {
		sum.RPS = float64(sum.Requests) / elapsed.Seconds()
	}
	if len(s.latencies) == 0 {
		return sum
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	sum.Min, sum.Max = sorted[0], sorted[len(sorted)-1]
	sum.Avg = total / time.Duration(len(sorted))
	sum.P50 = percentile(sorted, 50)
	sum.P90 = percentile(sorted, 90)
	sum.P95 = percentile(sorted, 95)
	sum.P99 = percentile(sorted, 99)
	return sum
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func pct(n int64, of int) string {
	if of == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(of)*100)
}

func printReport(w io.Writer, s Summary) error {
	count := func(n int64) string { return strconv.FormatInt(n, 10) }
	rows := [][]string{
		{"requests", strconv.Itoa(s.Requests), fmt.Sprintf("%.1f/s", s.RPS)},
		{"errors", count(s.Errors), pct(s.Errors, s.Requests)},
		{"with hits", count(s.Hits), pct(s.Hits, s.Requests)},
		{"zero results", count(s.ZeroResults), pct(s.ZeroResults, s.Requests)},
		{"rejected", count(s.Rejected), pct(s.Rejected, s.Requests)},
		{"cached", count(s.Cached), pct(s.Cached, s.Requests)},
		{"latency min", s.Min.String(), ""},
		{"latency avg", s.Avg.String(), ""},
		{"latency p50", s.P50.String(), ""},
		{"latency p90", s.P90.String(), ""},
		{"latency p95", s.P95.String(), ""},
		{"latency p99", s.P99.String(), ""},
		{"latency max", s.Max.String(), ""},
	}
	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		rows = append(rows, []string{"status " + strconv.Itoa(code), count(s.StatusCodes[code]), pct(s.StatusCodes[code], s.Requests)})
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"metric", "value", "share"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
