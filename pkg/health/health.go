// Package health aggregates dependency probes (durable store, status cache,
// queue broker) into a single report served on /health, /health/live and
// /health/ready.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// severity orders statuses so the report carries the worst one.
var severity = map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

// PingCheck reports the component down when ping fails.
func PingCheck(ping func(ctx context.Context) error) Check {
	return pingAs(ping, StatusDown)
}

// DegradedCheck reports the component degraded when ping fails. Used for
// dependencies the pipeline can run without, such as the status cache.
func DegradedCheck(ping func(ctx context.Context) error) Check {
	return pingAs(ping, StatusDegraded)
}

func pingAs(ping func(ctx context.Context) error, onFailure Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: onFailure, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check for name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

func (c *Checker) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run probes every registered dependency in parallel, each bounded by the
// checker timeout. The report status is the worst component status.
func (c *Checker) Run(ctx context.Context) Report {
	names := c.names()
	results := make([]ComponentHealth, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		c.mu.RLock()
		check := c.checks[name]
		c.mu.RUnlock()
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			start := time.Now()
			res := check(probeCtx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			results[i] = res
			return nil
		})
	}
	g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		res := results[i]
		report.Components[name] = res
		if severity[res.Status] > severity[report.Status] {
			report.Status = res.Status
		}
	}
	return report
}

// LiveHandler answers 200 while the process is serving.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.write(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// Handler answers 200 unless a required dependency is down.
func (c *Checker) Handler() http.HandlerFunc {
	return c.reportHandler(func(s Status) bool { return s != StatusDown })
}

// ReadyHandler answers 200 only when every dependency is up.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return c.reportHandler(func(s Status) bool { return s == StatusUp })
}

func (c *Checker) reportHandler(healthy func(Status) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if !healthy(report.Status) {
			code = http.StatusServiceUnavailable
			c.logger.Warn("health check failing", "path", r.URL.Path, "status", report.Status)
		}
		c.write(w, code, report)
	}
}

func (c *Checker) write(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}
