package metrics

import (
	"sort"
	"sync"
	"time"
)

// Bucket bounds in seconds. The like API is slow, so the upper range reaches 30s.
var latencyBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// Bucket is a cumulative count of observations <= Le seconds.
type Bucket struct {
	Le    float64 `json:"le"`
	Count int64   `json:"count"`
}

type series struct {
	counts []int64
	sum    float64
	count  int64
}

type LatencySnapshot struct {
	Name    string   `json:"name"`
	Buckets []Bucket `json:"buckets"`
	Sum     float64  `json:"sum"`
	Count   int64    `json:"count"`
	P50     float64  `json:"p50"`
	P95     float64  `json:"p95"`
}

// Latencies keeps one cumulative histogram per named series.
type Latencies struct {
	mu     sync.Mutex
	series map[string]*series
}

func NewLatencies() *Latencies {
	return &Latencies{series: map[string]*series{}}
}

func (l *Latencies) Observe(name string, d time.Duration) {
	if name == "" {
		return
	}
	sec := d.Seconds()
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.series[name]
	if !ok {
		s = &series{counts: make([]int64, len(latencyBounds))}
		l.series[name] = s
	}
	s.sum += sec
	s.count++
	for i, le := range latencyBounds {
		if sec <= le {
			s.counts[i]++
		}
	}
}

// Snapshots returns every series ordered by name.
func (l *Latencies) Snapshots() []LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LatencySnapshot, 0, len(l.series))
	for name, s := range l.series {
		snap := LatencySnapshot{Name: name, Sum: s.sum, Count: s.count, Buckets: make([]Bucket, len(latencyBounds))}
		for i, le := range latencyBounds {
			snap.Buckets[i] = Bucket{Le: le, Count: s.counts[i]}
		}
		snap.P50 = quantile(snap.Buckets, s.count, 0.50)
		snap.P95 = quantile(snap.Buckets, s.count, 0.95)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// quantile returns the smallest bucket bound covering q of the observations.
// Observations above the last bound report that bound.
func quantile(buckets []Bucket, total int64, q float64) float64 {
	if total == 0 || len(buckets) == 0 {
		return 0
	}
	target := int64(q * float64(total))
	if target < 1 {
		target = 1
	}
	for _, b := range buckets {
		if b.Count >= target {
			return b.Le
		}
	}
	return buckets[len(buckets)-1].Le
}
