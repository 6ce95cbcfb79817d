// Package metrics provides Prometheus-compatible metrics for wayfinder.
//
// Features:
//   - Counters for verifications, resources, gateway failures
//   - Gauges for cache occupancy and active runs
//   - Optional HTTP endpoint for scraping
//   - Thread-safe operations
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	value atomic.Int64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Add adjusts the gauge by delta.
func (g *Gauge) Add(delta int64) { g.value.Add(delta) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

type metric struct {
	name  string
	help  string
	kind  string
	value func() int64
}

// Registry holds named metrics for export.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric)}
}

// Counter registers and returns a counter.
func (r *Registry) Counter(name, help string) *Counter {
	c := &Counter{}
	r.register(metric{name: name, help: help, kind: "counter", value: c.Value})
	return c
}

// Gauge registers and returns a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	g := &Gauge{}
	r.register(metric{name: name, help: help, kind: "gauge", value: g.Value})
	return g
}

func (r *Registry) register(m metric) {
	r.mu.Lock()
	r.metrics[m.name] = m
	r.mu.Unlock()
}

// WriteProm writes all metrics in Prometheus text exposition format.
func (r *Registry) WriteProm(w io.Writer) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metrics := make([]metric, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, r.metrics[name])
	}
	r.mu.RUnlock()

	for _, m := range metrics {
		if m.help != "" {
			if _, err := fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# TYPE %s %s\n%s %d\n", m.name, m.kind, m.name, m.value()); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns all metric values by name.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = m.value()
	}
	return out
}

// Handler returns an HTTP handler serving the Prometheus text format, or
// JSON when the Accept header asks for it.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Accept") == "application/json" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(r.Snapshot())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WriteProm(w)
	})
}
