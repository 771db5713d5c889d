// Package health reports whether a pipeline process can do its work. The
// store is required; the broker and the query cache are optional, so their
// failure only degrades readiness instead of taking the process out of
// rotation.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a single check so one slow dependency cannot
// hold up the whole report.
const DefaultCheckTimeout = 2 * time.Second

// Check is a function that tests a single dependency and returns its status.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// PingCheck turns a ping function into a Check for a required dependency.
// A failing ping reports the component down.
func PingCheck(ping func(ctx context.Context) error) Check {
	return pingAs(ping, StatusDown)
}

// OptionalCheck is PingCheck for dependencies the process can run without,
// such as the query cache or the broker of the admin service. A failing ping
// only degrades the report.
func OptionalCheck(ping func(ctx context.Context) error) Check {
	return pingAs(ping, StatusDegraded)
}

func pingAs(ping func(ctx context.Context) error, failed Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: failed, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Checker holds the registered checks of one process.
type Checker struct {
	mu           sync.Mutex
	checks       map[string]Check
	last         map[string]Status
	checkTimeout time.Duration
	logger       *slog.Logger
}

// NewChecker creates an empty Checker using DefaultCheckTimeout.
func NewChecker() *Checker {
	return &Checker{
		checks:       make(map[string]Check),
		last:         make(map[string]Status),
		checkTimeout: DefaultCheckTimeout,
		logger:       slog.Default().With("component", "health"),
	}
}

// WithCheckTimeout changes the per-check deadline.
func (c *Checker) WithCheckTimeout(d time.Duration) *Checker {
	c.mu.Lock()
	c.checkTimeout = d
	c.mu.Unlock()
	return c
}

// Register adds a named health check, replacing one of the same name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all registered checks concurrently, each under its own
// deadline. The overall status is the worst component status. Only changes
// of a component's status are logged, since readiness is polled constantly.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	timeout := c.checkTimeout
	c.mu.Unlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			result := check(cctx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for name, comp := range report.Components {
		c.recordTransition(name, comp)
		switch {
		case comp.Status == StatusDown:
			report.Status = StatusDown
		case comp.Status == StatusDegraded && report.Status == StatusUp:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (c *Checker) recordTransition(name string, comp ComponentHealth) {
	c.mu.Lock()
	prev, seen := c.last[name]
	c.last[name] = comp.Status
	c.mu.Unlock()
	if prev == comp.Status || (!seen && comp.Status == StatusUp) {
		return
	}
	if comp.Status == StatusUp {
		c.logger.Info("dependency recovered", "check", name, "was", prev)
		return
	}
	c.logger.Warn("dependency unhealthy", "check", name, "status", comp.Status, "message", comp.Message)
}

// LiveHandler answers liveness checks. It runs no checks: a process whose
// dependencies are down is still alive and will recover on its own.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness checks. Only a down component makes the
// process unready; a degraded one still serves, without the cache or without
// triggering new ingestion.
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
