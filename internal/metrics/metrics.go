// Package metrics exposes carmine's Prometheus instrumentation: pipeline
// flush counts and sizes, cluster redirect counts, and tundra ensure/dirty/
// worker outcome counters. Package-level collectors registered once in
// init, an Enabled gate so the hot path stays a single atomic load when
// metrics aren't wanted, and an optional standalone /metrics HTTP server
// for callers who don't already expose one.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var enabled atomic.Bool

var (
	flushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carmine_flushes_total",
		Help: "Total number of Session flushes (single-node or cluster).",
	})
	flushRequestsPerFlush = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "carmine_flush_requests",
		Help:    "Distribution of request count per flush.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
	})
	flushErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carmine_flush_errors_total",
		Help: "Total flushes that returned a transport-level error.",
	})

	clusterRedirectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carmine_cluster_redirects_total",
		Help: "Total MOVED/ASK redirects observed by the cluster dispatcher.",
	}, []string{"kind"})
	clusterRedirectRoundsExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carmine_cluster_redirect_rounds_exhausted_total",
		Help: "Total dispatches that gave up after exhausting MaxRetries redirect rounds.",
	})

	tundraEnsureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carmine_tundra_ensure_total",
		Help: "Total ensure-ks outcomes, by result.",
	}, []string{"result"})
	tundraDirtyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carmine_tundra_dirty_total",
		Help: "Total dirty outcomes, by result.",
	}, []string{"result"})
	tundraWorkerTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carmine_tundra_worker_messages_total",
		Help: "Total tundra worker messages processed, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		flushesTotal, flushRequestsPerFlush, flushErrorsTotal,
		clusterRedirectsTotal, clusterRedirectRoundsExhausted,
		tundraEnsureTotal, tundraDirtyTotal, tundraWorkerTotal,
	)
}

// Enable turns metrics recording on or off. Disabled (the default) keeps
// every Observe* call a single atomic load plus a return.
func Enable(on bool) { enabled.Store(on) }

// Enabled reports whether metrics recording is currently on.
func Enabled() bool { return enabled.Load() }

// ServeMetrics starts a standalone HTTP server exposing /metrics in the
// background, for callers who don't already run a promhttp handler of
// their own. It never blocks the caller.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.ListenAndServe() }()
}

// ObserveFlush records one Session flush: how many requests it carried and
// whether the transport returned an error.
func ObserveFlush(requestCount int, err error) {
	if !enabled.Load() {
		return
	}
	flushesTotal.Inc()
	flushRequestsPerFlush.Observe(float64(requestCount))
	if err != nil {
		flushErrorsTotal.Inc()
	}
}

// ObserveClusterRedirect records one MOVED or ASK redirect the cluster
// dispatcher followed.
func ObserveClusterRedirect(kind string) {
	if !enabled.Load() {
		return
	}
	clusterRedirectsTotal.WithLabelValues(kind).Inc()
}

// ObserveClusterRoundsExhausted records a dispatch that gave up with
// requests still unresolved after MaxRetries redirect rounds.
func ObserveClusterRoundsExhausted() {
	if !enabled.Load() {
		return
	}
	clusterRedirectRoundsExhausted.Inc()
}

// ObserveTundraEnsure records one ensure-ks call's outcome: "ok" or
// "error".
func ObserveTundraEnsure(result string) {
	if !enabled.Load() {
		return
	}
	tundraEnsureTotal.WithLabelValues(result).Inc()
}

// ObserveTundraDirty records one dirty call's outcome: "ok" or "error".
func ObserveTundraDirty(result string) {
	if !enabled.Load() {
		return
	}
	tundraDirtyTotal.WithLabelValues(result).Inc()
}

// ObserveTundraWorker records one worker message's terminal outcome:
// "success", "retry", or "error".
func ObserveTundraWorker(outcome string) {
	if !enabled.Load() {
		return
	}
	tundraWorkerTotal.WithLabelValues(outcome).Inc()
}
