package proxy

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	requestCounts     = expvar.NewMap("oauthproxy_requests_total")
	authFailureCounts = expvar.NewMap("oauthproxy_auth_failures_total")
	quotaCounts       = expvar.NewMap("oauthproxy_quota_events_total")
	whitelistCounts   = expvar.NewMap("oauthproxy_whitelisted_total")
	requestDurations  = expvar.NewMap("oauthproxy_request_duration_seconds")
	statusCounts      = expvar.NewMap("oauthproxy_responses_total")

	durationHistsMu sync.Mutex
	durationHists   = make(map[string]*histogram)
	durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: durationBuckets,
		counts:  make([]uint64, len(durationBuckets)+1),
	}
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
	h.sum += v
}

// String satisfies expvar.Var with the total count and sum.
func (h *histogram) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n uint64
	for _, c := range h.counts {
		n += c
	}
	return fmt.Sprintf(`{"count":%d,"sum":%s}`, n, strconv.FormatFloat(h.sum, 'f', -1, 64))
}

func (h *histogram) writeProm(w http.ResponseWriter, service string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum uint64
	for i, b := range h.buckets {
		cum += h.counts[i]
		fmt.Fprintf(w, "oauthproxy_request_duration_seconds_bucket{service=%q,le=%q} %d\n", service, strconv.FormatFloat(b, 'f', -1, 64), cum)
	}
	cum += h.counts[len(h.buckets)]
	fmt.Fprintf(w, "oauthproxy_request_duration_seconds_bucket{service=%q,le=\"+Inf\"} %d\n", service, cum)
	fmt.Fprintf(w, "oauthproxy_request_duration_seconds_sum{service=%q} %f\n", service, h.sum)
	fmt.Fprintf(w, "oauthproxy_request_duration_seconds_count{service=%q} %d\n", service, cum)
}

func recordRequest(service string, status int, d time.Duration) {
	requestCounts.Add(service, 1)
	statusCounts.Add(service+"|"+strconv.Itoa(status), 1)
	if status == http.StatusUnauthorized {
		authFailureCounts.Add(service, 1)
	}

	durationHistsMu.Lock()
	h, ok := durationHists[service]
	if !ok {
		h = newHistogram()
		durationHists[service] = h
		requestDurations.Set(service, h)
	}
	durationHistsMu.Unlock()
	h.Observe(d.Seconds())
}

func incQuota(service string)     { quotaCounts.Add(service, 1) }
func incWhitelist(service string) { whitelistCounts.Add(service, 1) }

// MetricsHandler writes all proxy metrics in the Prometheus text format.
func MetricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	requestCounts.Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(w, "oauthproxy_requests_total{service=%q} %s\n", kv.Key, kv.Value.String())
	})
	statusCounts.Do(func(kv expvar.KeyValue) {
		service, code := splitStatusKey(kv.Key)
		fmt.Fprintf(w, "oauthproxy_responses_total{service=%q,code=%q} %s\n", service, code, kv.Value.String())
	})
	authFailureCounts.Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(w, "oauthproxy_auth_failures_total{service=%q} %s\n", kv.Key, kv.Value.String())
	})
	quotaCounts.Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(w, "oauthproxy_quota_events_total{service=%q} %s\n", kv.Key, kv.Value.String())
	})
	whitelistCounts.Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(w, "oauthproxy_whitelisted_total{service=%q} %s\n", kv.Key, kv.Value.String())
	})
	durationHistsMu.Lock()
	names := make([]string, 0, len(durationHists))
	for name := range durationHists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		durationHists[name].writeProm(w, name)
	}
	durationHistsMu.Unlock()
}

func splitStatusKey(k string) (string, string) {
	i := strings.LastIndexByte(k, '|')
	if i < 0 {
		return k, ""
	}
	return k[:i], k[i+1:]
}
