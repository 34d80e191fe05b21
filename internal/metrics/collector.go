// Package metrics exposes crispdesk's counters in the Prometheus text
// exposition format without pulling in client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

// Registry aggregates counters, gauges, and histograms keyed by name and labels.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Since observes the seconds elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func seriesKey(name, labels string) string {
	return name + "{" + labels + "}"
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := seriesKey(name, labels)
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c = &Counter{name: name, help: help, labels: labels}
	r.counters[key] = c
	return c
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[key] = g
	return g
}

func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	r.histograms[key] = h
	return h
}

// Handler renders every registered series in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// WriteTo writes the exposition text. Series are sorted so output is stable.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP crispdesk_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE crispdesk_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "crispdesk_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.RLock()
	counters := sortedSeries(r.counters)
	gauges := sortedSeries(r.gauges)
	histograms := sortedSeries(r.histograms)
	r.mu.RUnlock()

	written := make(map[string]bool)
	for _, c := range counters {
		writeHeader(&sb, written, c.name, c.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}
	for _, g := range gauges {
		writeHeader(&sb, written, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		writeHeader(&sb, written, h.name, h.help, "histogram")
		h.mu.Lock()
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := `le="` + le + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, kind string) {
	if written[name] {
		return
	}
	written[name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedSeries[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Pre-defined series used across the application.
var (
	WebhooksReceived    = Collector.Counter("crispdesk_webhooks_total", "Webhook deliveries received", "")
	WebhooksRejected    = Collector.Counter("crispdesk_webhooks_rejected_total", "Webhook deliveries that failed validation or signature checks", "")
	DuplicateDeliveries = Collector.Counter("crispdesk_duplicate_deliveries_total", "Deliveries dropped as duplicates", "")
	BusyConversations   = Collector.Counter("crispdesk_busy_conversations_total", "Events dropped because a flow was already active", "")
	FlowFailures        = Collector.Counter("crispdesk_flow_failures_total", "Flows that ended in an error or panic", "")
	AwaitTimeouts       = Collector.Counter("crispdesk_await_timeouts_total", "Collector waits that timed out", "")
	ActiveFlows         = Collector.Gauge("crispdesk_active_flows", "Flows currently running", "")

	GatewayRequests = Collector.Counter("crispdesk_gateway_requests_total", "HTTP requests sent to the Crisp API", "")
	GatewayRetries  = Collector.Counter("crispdesk_gateway_retries_total", "Crisp API requests retried", "")
	GatewayFailures = Collector.Counter("crispdesk_gateway_failures_total", "Crisp API requests that exhausted retries", "")

	NLURequests = Collector.Counter("crispdesk_nlu_requests_total", "Requests sent to the NLU provider", "")
	NLUFailures = Collector.Counter("crispdesk_nlu_failures_total", "NLU requests that failed", "")

	FlowDuration = Collector.Histogram("crispdesk_flow_duration_seconds", "Flow run duration in seconds", "",
		[]float64{0.5, 1, 5, 15, 30, 60, 120, 300})
)

// FlowRuns returns the per-flow run counter.
func FlowRuns(flow string) *Counter {
	return Collector.Counter("crispdesk_flow_runs_total", "Flow runs by flow name", `flow="`+flow+`"`)
}
