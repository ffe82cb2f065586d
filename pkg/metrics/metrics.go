package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry collects bot and admin API counters in process.
type Registry struct {
	mu           sync.RWMutex
	endpoint     map[string]*EndpointStat
	commands     map[string]int64
	admissions   map[string]int64
	likeOutcomes map[string]int64
	broadcasts   map[string]int64
	gauges       map[string]float64
	quotaCommits int64
	Latency      *Latencies
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt  string                  `json:"generated_at"`
	Endpoints    map[string]EndpointStat `json:"endpoints"`
	Commands     map[string]int64        `json:"commands"`
	Admissions   map[string]int64        `json:"admissions"`
	LikeOutcomes map[string]int64        `json:"like_outcomes"`
	Broadcasts   map[string]int64        `json:"broadcasts"`
	Gauges       map[string]float64      `json:"gauges"`
	QuotaCommits int64                   `json:"quota_commits_total"`
	Latencies    []LatencySnapshot       `json:"latencies,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:     map[string]*EndpointStat{},
		commands:     map[string]int64{},
		admissions:   map[string]int64{},
		likeOutcomes: map[string]int64{},
		broadcasts:   map[string]int64{},
		gauges:       map[string]float64{},
		Latency:      NewLatencies(),
	}
}

// Observe records one admin API request.
func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// ObserveLatency records d under the named latency series.
func (r *Registry) ObserveLatency(name string, d time.Duration) {
	r.Latency.Observe(name, d)
}

func (r *Registry) inc(m map[string]int64, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	r.mu.Lock()
	m[key]++
	r.mu.Unlock()
}

func (r *Registry) IncCommand(name string) { r.inc(r.commands, name) }

// IncAdmission counts a gate decision. Admitted decisions carry an empty reason.
func (r *Registry) IncAdmission(admitted bool, reason string) {
	verdict := "DENIED"
	if admitted {
		verdict = "ADMITTED"
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "NONE"
	}
	r.inc(r.admissions, verdict+"|"+reason)
}

func (r *Registry) IncLikeOutcome(kind string) { r.inc(r.likeOutcomes, strings.ToUpper(kind)) }

func (r *Registry) IncBroadcast(state string) { r.inc(r.broadcasts, strings.ToUpper(state)) }

func (r *Registry) IncQuotaCommit() {
	r.mu.Lock()
	r.quotaCommits++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	out := Snapshot{
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		Endpoints:    make(map[string]EndpointStat, len(r.endpoint)),
		Commands:     copyCounts(r.commands),
		Admissions:   copyCounts(r.admissions),
		LikeOutcomes: copyCounts(r.likeOutcomes),
		Broadcasts:   copyCounts(r.broadcasts),
		Gauges:       make(map[string]float64, len(r.gauges)),
		QuotaCommits: r.quotaCommits,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	r.mu.RUnlock()
	out.Latencies = r.Latency.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r.Snapshot())
	}
}

func writeCounter(b *strings.Builder, name, help, label string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, k := range SortedKeys(values) {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP likegate_endpoint_count admin API requests by endpoint\n")
		b.WriteString("# TYPE likegate_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "likegate_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
			fmt.Fprintf(b, "likegate_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		writeCounter(b, "likegate_commands_total", "bot commands and callbacks handled", "command", snap.Commands)
		b.WriteString("# HELP likegate_admissions_total gate decisions by verdict and reason\n")
		b.WriteString("# TYPE likegate_admissions_total counter\n")
		for _, key := range SortedKeys(snap.Admissions) {
			parts := strings.SplitN(key, "|", 2)
			reason := "NONE"
			if len(parts) == 2 {
				reason = parts[1]
			}
			fmt.Fprintf(b, "likegate_admissions_total{verdict=%q,reason=%q} %d\n", parts[0], reason, snap.Admissions[key])
		}
		writeCounter(b, "likegate_like_outcomes_total", "like API outcomes by kind", "outcome", snap.LikeOutcomes)
		writeCounter(b, "likegate_broadcasts_total", "broadcast flow resolutions by state", "state", snap.Broadcasts)
		b.WriteString("# HELP likegate_quota_commits_total successful likes charged against quota\n")
		b.WriteString("# TYPE likegate_quota_commits_total counter\n")
		fmt.Fprintf(b, "likegate_quota_commits_total %d\n", snap.QuotaCommits)
		b.WriteString("# HELP likegate_gauge operational gauges\n")
		b.WriteString("# TYPE likegate_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "likegate_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		for _, h := range snap.Latencies {
			b.WriteString("# HELP likegate_latency_seconds latency histogram\n")
			b.WriteString("# TYPE likegate_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "likegate_latency_seconds_bucket{series=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "likegate_latency_seconds_bucket{series=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "likegate_latency_seconds_sum{series=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "likegate_latency_seconds_count{series=%q} %d\n", h.Name, h.Count)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
