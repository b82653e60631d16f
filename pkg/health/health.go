// Package health runs dependency checks for the readiness probe. Each
// service registers its stores, the selected search backend or its
// upstreams. Checks run in parallel, each bounded by a timeout, and status
// changes are logged once rather than on every probe.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Service    string                     `json:"service"`
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 3 * time.Second

type Checker struct {
	service string
	timeout time.Duration

	mu     sync.Mutex
	checks map[string]Check
	last   map[string]Status
	logger *slog.Logger
}

func NewChecker(service string) *Checker {
	return &Checker{
		service: service,
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]Check),
		last:    make(map[string]Status),
		logger:  slog.Default().With("component", "health", "service", service),
	}
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently. The report status is the worst
// component status. A check that outlives the timeout is reported down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := maps.Clone(c.checks)
	c.mu.Unlock()

	report := Report{
		Service:    c.service,
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Go(func() {
			result := c.runOne(ctx, check)
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		})
	}
	wg.Wait()

	for _, comp := range report.Components {
		if comp.Status.rank() > report.Status.rank() {
			report.Status = comp.Status
		}
	}
	c.logTransitions(report.Components)
	return report
}

func (c *Checker) runOne(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{Status: StatusDown, Message: "check timed out"}
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	return result
}

func (c *Checker) logTransitions(components map[string]ComponentHealth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, comp := range components {
		prev, seen := c.last[name]
		c.last[name] = comp.Status
		if prev == comp.Status || (!seen && comp.Status == StatusUp) {
			continue
		}
		if comp.Status == StatusUp {
			c.logger.Info("component recovered", "check", name, "was", prev)
		} else {
			c.logger.Warn("component unhealthy", "check", name, "status", comp.Status, "message", comp.Message)
		}
	}
}

// PingCheck adapts a ping function. A failing ping marks the component
// down when it is required, degraded otherwise, as for the result cache.
func PingCheck(ping func(ctx context.Context) error, required bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if required {
				status = StatusDown
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// LiveHandler answers liveness probes without touching dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "service": c.service})
	}
}

// ReadyHandler answers 503 while any required dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
