// Package health reports daemon liveness and per-source sync freshness
// over a local HTTP endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the overall daemon health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// SourceStatus is the freshness report for one capture source.
type SourceStatus struct {
	LastSync  time.Time `json:"last_sync"`
	LastError string    `json:"last_error,omitempty"`
	Stale     bool      `json:"stale"`
}

// Report is the full status document served on /status.
type Report struct {
	Status    Status                  `json:"status"`
	Uptime    string                  `json:"uptime"`
	StartedAt time.Time               `json:"started_at"`
	Sources   map[string]SourceStatus `json:"sources"`
	Version   string                  `json:"version"`
}

// Checker tracks per-source sync outcomes and derives an overall status.
// A source whose last successful sync is older than the stale threshold
// degrades the daemon; all sources stale marks it unhealthy.
type Checker struct {
	mu         sync.Mutex
	startedAt  time.Time
	version    string
	staleAfter time.Duration
	lastSync   map[string]time.Time
	lastError  map[string]string
	now        func() time.Time
}

// NewChecker creates a checker. staleAfter bounds how long a source may
// go without a confirmed sync before it counts as stale.
func NewChecker(version string, staleAfter time.Duration) *Checker {
	return &Checker{
		startedAt:  time.Now(),
		version:    version,
		staleAfter: staleAfter,
		lastSync:   make(map[string]time.Time),
		lastError:  make(map[string]string),
		now:        time.Now,
	}
}

// RecordSuccess notes a confirmed sync for a source and clears its error.
func (c *Checker) RecordSuccess(source string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync[source] = at
	delete(c.lastError, source)
}

// RecordError notes a failed sync attempt for a source. The previous
// success timestamp is kept; staleness is judged from it.
func (c *Checker) RecordError(source string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastError[source] = err.Error()
	}
}

// Report builds the current status document.
func (c *Checker) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	sources := make(map[string]SourceStatus, len(c.lastSync))
	stale := 0
	for name, last := range c.lastSync {
		s := SourceStatus{
			LastSync:  last,
			LastError: c.lastError[name],
			Stale:     last.IsZero() || now.Sub(last) > c.staleAfter,
		}
		if s.Stale {
			stale++
		}
		sources[name] = s
	}

	status := StatusHealthy
	switch {
	case len(sources) > 0 && stale == len(sources):
		status = StatusUnhealthy
	case stale > 0 || len(c.lastError) > 0:
		status = StatusDegraded
	}

	return Report{
		Status:    status,
		Uptime:    now.Sub(c.startedAt).Round(time.Second).String(),
		StartedAt: c.startedAt,
		Sources:   sources,
		Version:   c.version,
	}
}

// Handler serves /healthz (liveness, always 200 while the process runs)
// and /status (the full report; 503 when unhealthy).
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		report := c.Report()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})
	return mux
}
