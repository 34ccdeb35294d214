// Package health reports whether the delivery server's dependencies respond.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the health of a component or of the whole server.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus is the health of one component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the body of GET /health.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is a component that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

type component struct {
	pinger   Pinger
	critical bool
}

// Checker probes registered components.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	startTime  time.Time
	version    string
	timeout    time.Duration
}

// NewChecker creates a Checker with no components.
func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]component),
		startTime:  time.Now(),
		version:    version,
		timeout:    5 * time.Second,
	}
}

// Register adds a component. A failing critical component makes the server
// unhealthy; any other failing component only degrades it.
func (c *Checker) Register(name string, p Pinger, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{pinger: p, critical: critical}
}

// SetTimeout sets the probe timeout.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Check probes every component.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	comps := make(map[string]component, len(c.components))
	for k, v := range c.components {
		comps[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	overall := StatusHealthy
	statuses := make(map[string]ComponentStatus, len(names))
	for _, name := range names {
		comp := comps[name]
		if err := comp.pinger.Ping(checkCtx); err != nil {
			statuses[name] = ComponentStatus{Status: StatusUnhealthy, Message: err.Error()}
			if comp.critical {
				overall = StatusUnhealthy
			} else if overall == StatusHealthy {
				overall = StatusDegraded
			}
			continue
		}
		statuses[name] = ComponentStatus{Status: StatusHealthy}
	}

	return &Response{
		Status:     overall,
		Components: statuses,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

// Handler serves the health response. Degraded still answers 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
