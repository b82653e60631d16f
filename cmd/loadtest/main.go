// Command loadtest drives the search API with a mix of forum queries and
// reports throughput, latency percentiles and how answers split between
// hits, zero results, cache hits and rejections.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8000] [-key <api key>] [-concurrency 10] [-duration 30s]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	Queries     []url.Values
}

// defaultQueries exercises every query feature: plain terms, exclusions,
// quoted terms, any-match, filters, sorting, subject-only and rejected input.
func defaultQueries() []url.Values {
	q := func(pairs ...string) url.Values {
		v := url.Values{}
		for i := 0; i+1 < len(pairs); i += 2 {
			v.Set(pairs[i], pairs[i+1])
		}
		return v
	}
	return []url.Values{
		q("q", "graphics card drivers"),
		q("q", "linux install -windows"),
		q("q", `"power supply" noise`),
		q("q", "router firmware", "match", "any"),
		q("q", "keyboard", "boards", "1,2"),
		q("q", "warranty claim", "sort", "date_desc"),
		q("q", "overclock", "subject_only", "true"),
		q("q", "monitor flicker", "from", "2020-01-01T00:00:00Z"),
		q("q", "fan -loud -noisy", "group", "true"),
		q("q", "ssd benchmark", "offset", "20", "limit", "20"),
		q("q", "a"),
		q("q", "-only -excluded"),
	}
}

// response is the subset of the search response the report needs.
type response struct {
	Total    int    `json:"total"`
	Cached   bool   `json:"cached"`
	Rejected string `json:"rejected"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "gateway or searcher base URL")
	apiKey := flag.String("key", os.Getenv("SEARCH_API_KEY"), "API key sent as X-API-Key")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		APIKey:      *apiKey,
		Concurrency: *concurrency,
		Duration:    *duration,
		Queries:     defaultQueries(),
	}

	fmt.Println("=== Forum Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n\n", len(cfg.Queries))

	stats, err := runLoadTest(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if err := printReport(os.Stdout, stats.Summary(cfg.Duration)); err != nil {
		fmt.Fprintf(os.Stderr, "rendering report: %v\n", err)
		os.Exit(1)
	}
	if stats.Total() == 0 {
		fmt.Println("\nWARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func runLoadTest(ctx context.Context, cfg Config) (*Stats, error) {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	endpoint, err := url.JoinPath(cfg.BaseURL, "/api/v1/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				query := cfg.Queries[i%len(cfg.Queries)]
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
				if err != nil {
					return err
				}
				if cfg.APIKey != "" {
					req.Header.Set("X-API-Key", cfg.APIKey)
				}
				stats.Record(do(client, req))
			}
			return nil
		})
	}
	return stats, g.Wait()
}

func do(client *http.Client, req *http.Request) Sample {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return Sample{Aborted: true}
		}
		return Sample{Latency: time.Since(start), Err: err}
	}
	defer resp.Body.Close()

	s := Sample{Status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body response
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			if req.Context().Err() != nil {
				return Sample{Aborted: true}
			}
			s.Err = err
		}
		s.Total, s.Cached, s.Rejected = body.Total, body.Cached, body.Rejected != ""
	}
	io.Copy(io.Discard, resp.Body)
	s.Latency = time.Since(start)
	return s
}
