package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// DefaultCheckTimeout bounds a single dependency check.
const DefaultCheckTimeout = 3 * time.Second

// HealthCheckFunc probes one dependency.
type HealthCheckFunc func(ctx context.Context) error

// Checker is a dependency that can probe itself. The Postgres connection and
// the Redis cache implement it.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	CheckedAt time.Time              `json:"checked_at"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type namedCheck struct {
	name string
	fn   HealthCheckFunc
}

// CompositeHealthChecker probes every registered dependency concurrently.
type CompositeHealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

// NewCompositeHealthChecker creates a checker with no dependencies.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: DefaultCheckTimeout,
	}
}

// AddCheck registers fn under name, replacing an earlier check of that name.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].fn = fn
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, fn: fn})
}

// AddChecker registers a Checker under its own name.
func (c *CompositeHealthChecker) AddChecker(checker Checker) {
	c.AddCheck(checker.Name(), checker.Check)
}

// Check runs all probes and aggregates them.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := check.fn(probeCtx)
			results[i] = CheckResult{
				Healthy:  err == nil,
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Message:   "ok",
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		CheckedAt: time.Now().UTC(),
	}
	if len(checks) > 0 {
		status.Checks = make(map[string]CheckResult, len(checks))
	}

	var failing []string
	for i, check := range checks {
		status.Checks[check.name] = results[i]
		if !results[i].Healthy {
			failing = append(failing, check.name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		status.Healthy = false
		status.Message = "unhealthy: " + strings.Join(failing, ", ")
	}
	return status
}

// Health serves the aggregated status, 503 when any probe fails.
func Health(checker *CompositeHealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := checker.Check(c.UserContext())
		if !status.Healthy {
			c.Status(fiber.StatusServiceUnavailable)
		}
		return c.JSON(status)
	}
}

// Ready is the readiness probe: a bare status, 503 with the failing
// dependencies when not ready.
func Ready(checker *CompositeHealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := checker.Check(c.UserContext())
		if !status.Healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"reason": status.Message,
			})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	}
}
