// Package metrics exposes Prometheus counters, histograms, and gauges for
// the build pipeline. Grounded on
// inful-docbuilder/internal/metrics/prometheus_recorder.go's registration
// pattern (a struct of vectors built once against a private Registry and
// exposed over an HTTP handler), adapted to Poltergeist's build/watch/lock
// domain rather than docbuilder's clone/stage pipeline.
package metrics

import (
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records build-pipeline metrics for one daemon process.
type Recorder struct {
	once sync.Once

	buildDuration  *prom.HistogramVec
	buildOutcomes  *prom.CounterVec
	activeBuilds   prom.Gauge
	watchEvents    *prom.CounterVec
	lockContention *prom.CounterVec
	registry       *prom.Registry
}

// NewRecorder constructs and registers every metric against a fresh,
// private registry so multiple Recorders never collide in tests.
func NewRecorder() *Recorder {
	reg := prom.NewRegistry()
	r := &Recorder{registry: reg}
	r.once.Do(func() {
		r.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "poltergeist",
			Name:      "build_duration_seconds",
			Help:      "Build command duration by target",
			Buckets:   prom.DefBuckets,
		}, []string{"target"})
		r.buildOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "poltergeist",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by target and status",
		}, []string{"target", "status"})
		r.activeBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "poltergeist",
			Name:      "active_builds",
			Help:      "Number of builds currently running",
		})
		r.watchEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "poltergeist",
			Name:      "watch_events_total",
			Help:      "Filesystem change events observed by target",
		}, []string{"target"})
		r.lockContention = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "poltergeist",
			Name:      "lock_contention_total",
			Help:      "Build lock acquisition failures by target",
		}, []string{"target"})

		reg.MustRegister(r.buildDuration, r.buildOutcomes, r.activeBuilds, r.watchEvents, r.lockContention)
	})
	return r
}

func (r *Recorder) RecordBuildStart() { r.activeBuilds.Inc() }

func (r *Recorder) RecordBuildEnd(target, status string, seconds float64) {
	r.activeBuilds.Dec()
	r.buildDuration.WithLabelValues(target).Observe(seconds)
	r.buildOutcomes.WithLabelValues(target, status).Inc()
}

func (r *Recorder) RecordWatchEvent(target string) {
	r.watchEvents.WithLabelValues(target).Inc()
}

func (r *Recorder) RecordLockContention(target string) {
	r.lockContention.WithLabelValues(target).Inc()
}

// Handler returns the HTTP handler to mount at the --metrics-addr address.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
