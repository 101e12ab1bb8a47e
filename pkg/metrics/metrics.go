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

type Registry struct {
	mu           sync.RWMutex
	endpoint     map[string]*EndpointStat
	verdict      map[string]int64
	reason       map[string]int64
	gauges       map[string]float64
	collaborator map[string]*CollaboratorStat
	cacheHits    int64
	cacheMisses  int64
	degraded     int64
	Histograms   *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

// CollaboratorStat tracks one remote signal collaborator.
type CollaboratorStat struct {
	Count       int64   `json:"count"`
	Unavailable int64   `json:"unavailable"`
	TotalMS     int64   `json:"total_ms"`
	MaxMS       int64   `json:"max_ms"`
	LastMS      int64   `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt   string                      `json:"generated_at"`
	Endpoints     map[string]EndpointStat     `json:"endpoints"`
	Verdicts      map[string]int64            `json:"verdicts"`
	Reasons       map[string]int64            `json:"reasons"`
	Gauges        map[string]float64          `json:"gauges"`
	Collaborators map[string]CollaboratorStat `json:"collaborators"`
	CacheHits     int64                       `json:"cache_hits_total"`
	CacheMisses   int64                       `json:"cache_misses_total"`
	Degraded      int64                       `json:"degraded_decisions_total"`
	Histograms    []HistogramSnapshot         `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:     map[string]*EndpointStat{},
		verdict:      map[string]int64{},
		reason:       map[string]int64{},
		gauges:       map[string]float64{},
		collaborator: map[string]*CollaboratorStat{},
		Histograms:   NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

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

func (r *Registry) IncVerdict(verdict string) {
	if verdict == "" {
		return
	}
	r.mu.Lock()
	r.verdict[verdict]++
	r.mu.Unlock()
}

func (r *Registry) IncReason(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.reason[reason]++
	r.mu.Unlock()
}

func (r *Registry) IncCacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

func (r *Registry) IncCacheMiss() {
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

func (r *Registry) IncDegraded() {
	r.mu.Lock()
	r.degraded++
	r.mu.Unlock()
}

// ObserveCollaborator records one collaborator call. available=false counts
// fallback substitutions.
func (r *Registry) ObserveCollaborator(source string, d time.Duration, available bool) {
	source = strings.TrimSpace(source)
	if source == "" {
		return
	}
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.collaborator[source]
	if !ok {
		stat = &CollaboratorStat{}
		r.collaborator[source] = stat
	}
	stat.Count++
	if !available {
		stat.Unavailable++
	}
	stat.TotalMS += ms
	stat.LastMS = ms
	if ms > stat.MaxMS {
		stat.MaxMS = ms
	}
	stat.AvgMS = float64(stat.TotalMS) / float64(stat.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Endpoints:     make(map[string]EndpointStat, len(r.endpoint)),
		Verdicts:      make(map[string]int64, len(r.verdict)),
		Reasons:       make(map[string]int64, len(r.reason)),
		Gauges:        make(map[string]float64, len(r.gauges)),
		Collaborators: make(map[string]CollaboratorStat, len(r.collaborator)),
		CacheHits:     r.cacheHits,
		CacheMisses:   r.cacheMisses,
		Degraded:      r.degraded,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.verdict {
		out.Verdicts[k] = v
	}
	for k, v := range r.reason {
		out.Reasons[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	for k, v := range r.collaborator {
		out.Collaborators[k] = *v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP verishield_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE verishield_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "verishield_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
		}
		b.WriteString("# HELP verishield_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE verishield_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "verishield_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		b.WriteString("# HELP verishield_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE verishield_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "verishield_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}
		b.WriteString("# HELP verishield_verdict_total total decisions by verdict\n")
		b.WriteString("# TYPE verishield_verdict_total counter\n")
		for _, verdict := range SortedKeys(snap.Verdicts) {
			fmt.Fprintf(b, "verishield_verdict_total{verdict=%q} %d\n", verdict, snap.Verdicts[verdict])
		}
		b.WriteString("# HELP verishield_reason_total total decisions by reason class\n")
		b.WriteString("# TYPE verishield_reason_total counter\n")
		for _, reason := range SortedKeys(snap.Reasons) {
			fmt.Fprintf(b, "verishield_reason_total{reason=%q} %d\n", reason, snap.Reasons[reason])
		}
		b.WriteString("# HELP verishield_cache_hits_total semantic cache hits\n")
		b.WriteString("# TYPE verishield_cache_hits_total counter\n")
		fmt.Fprintf(b, "verishield_cache_hits_total %d\n", snap.CacheHits)
		b.WriteString("# HELP verishield_cache_misses_total semantic cache misses\n")
		b.WriteString("# TYPE verishield_cache_misses_total counter\n")
		fmt.Fprintf(b, "verishield_cache_misses_total %d\n", snap.CacheMisses)
		b.WriteString("# HELP verishield_degraded_total decisions made on fallback signal values\n")
		b.WriteString("# TYPE verishield_degraded_total counter\n")
		fmt.Fprintf(b, "verishield_degraded_total %d\n", snap.Degraded)
		b.WriteString("# HELP verishield_gauge operational gauge metrics\n")
		b.WriteString("# TYPE verishield_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "verishield_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}

		b.WriteString("# HELP verishield_collaborator_calls_total collaborator calls by source\n")
		b.WriteString("# TYPE verishield_collaborator_calls_total counter\n")
		for _, source := range SortedKeys(snap.Collaborators) {
			fmt.Fprintf(b, "verishield_collaborator_calls_total{source=%q} %d\n", source, snap.Collaborators[source].Count)
		}
		b.WriteString("# HELP verishield_collaborator_unavailable_total collaborator fallback substitutions by source\n")
		b.WriteString("# TYPE verishield_collaborator_unavailable_total counter\n")
		for _, source := range SortedKeys(snap.Collaborators) {
			fmt.Fprintf(b, "verishield_collaborator_unavailable_total{source=%q} %d\n", source, snap.Collaborators[source].Unavailable)
		}
		b.WriteString("# HELP verishield_collaborator_latency_ms collaborator latency in ms\n")
		b.WriteString("# TYPE verishield_collaborator_latency_ms gauge\n")
		for _, source := range SortedKeys(snap.Collaborators) {
			stat := snap.Collaborators[source]
			fmt.Fprintf(b, "verishield_collaborator_latency_ms{source=%q,stat=\"last\"} %d\n", source, stat.LastMS)
			fmt.Fprintf(b, "verishield_collaborator_latency_ms{source=%q,stat=\"avg\"} %.3f\n", source, stat.AvgMS)
			fmt.Fprintf(b, "verishield_collaborator_latency_ms{source=%q,stat=\"max\"} %d\n", source, stat.MaxMS)
		}

		for _, h := range snap.Histograms {
			b.WriteString("# HELP verishield_latency_seconds latency histogram\n")
			b.WriteString("# TYPE verishield_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "verishield_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "verishield_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "verishield_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "verishield_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "verishield_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "verishield_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "verishield_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
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
