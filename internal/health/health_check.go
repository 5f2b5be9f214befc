package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the overall health of the process
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Severity decides what a failing check does to readiness
type Severity string

const (
	SeverityCritical Severity = "critical" // failing makes the process unready
	SeverityWarning  Severity = "warning"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type check struct {
	name     string
	severity Severity
	fn       CheckFunc
}

// Checker runs named checks periodically and keeps the last results
type Checker struct {
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	checks      []check
	results     map[string]CheckResult
	status      Status
	lastCheck   time.Time
	readinessOK bool
	draining    bool
}

// NewChecker creates a checker. Until the first run the process reports ready.
func NewChecker(interval, timeout time.Duration, logger *zap.Logger) *Checker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		interval:    interval,
		timeout:     timeout,
		logger:      logger,
		results:     make(map[string]CheckResult),
		status:      StatusHealthy,
		readinessOK: true,
	}
}

// Register adds a named check
func (h *Checker) Register(name string, severity Severity, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, severity: severity, fn: fn})
}

// Start runs the checks until ctx is done
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)
	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the status
func (h *Checker) RunChecks(ctx context.Context) {
	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	allHealthy, allReady := true, true
	for _, c := range checks {
		result := h.run(ctx, c)
		results[c.name] = result
		if result.Status != string(StatusHealthy) {
			allHealthy = false
			if c.severity == SeverityCritical {
				allReady = false
			}
		}
	}

	status := StatusHealthy
	switch {
	case !allReady:
		status = StatusUnhealthy
	case !allHealthy:
		status = StatusDegraded
	}

	h.mu.Lock()
	h.results = results
	h.status = status
	h.readinessOK = allReady
	h.lastCheck = time.Now()
	h.mu.Unlock()

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", allReady))
}

func (h *Checker) run(ctx context.Context, c check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result := CheckResult{Name: c.name, Status: string(StatusHealthy), Timestamp: time.Now()}
	if err := c.fn(ctx); err != nil {
		result.Status = string(c.severity)
		result.Message = err.Error()
		h.logger.Warn("Health check failed",
			zap.String("check", c.name),
			zap.String("severity", string(c.severity)),
			zap.Error(err))
	}
	return result
}

// IsReady reports whether the process can serve traffic
func (h *Checker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK && !h.draining
}

// Status returns the overall status of the last run
func (h *Checker) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Results returns the last check results ordered by name
func (h *Checker) Results() []CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]CheckResult, 0, len(h.results))
	for _, r := range h.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetDraining marks the process unready for graceful shutdown
func (h *Checker) SetDraining(draining bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = draining
}

// LivenessHandler handles HTTP liveness probe requests
func (h *Checker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": true,
		"status":  h.Status(),
		"checks":  h.Results(),
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *Checker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	ready := h.IsReady()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":  ready,
		"status": h.Status(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// DataDirCheck verifies the data directory exists and is writable
func DataDirCheck(dir string) CheckFunc {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("data directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data path %s is not a directory", dir)
		}

		probe := filepath.Join(dir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
		f, err := os.Create(probe)
		if err != nil {
			return fmt.Errorf("cannot write to data directory: %w", err)
		}
		f.Close()
		return os.Remove(probe)
	}
}

// BacklogCheck fails when more than limit repair messages are outstanding
func BacklogCheck(outstanding func(ctx context.Context) (int64, error), limit int64) CheckFunc {
	return func(ctx context.Context) error {
		n, err := outstanding(ctx)
		if err != nil {
			return err
		}
		if n > limit {
			return fmt.Errorf("%d repair messages outstanding, limit %d", n, limit)
		}
		return nil
	}
}
