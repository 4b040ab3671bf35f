// Package metrics exposes routing and evaluation counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zen-systems/visroute/pkg/eval"
	"github.com/zen-systems/visroute/pkg/router"
)

// Recorder implements router.Observer and eval.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	capabilities *prometheus.CounterVec
	samples      prometheus.Histogram
	consistency  prometheus.Histogram
	records      *prometheus.CounterVec
	skipped      *prometheus.CounterVec
}

var (
	_ router.Observer = (*Recorder)(nil)
	_ eval.Observer   = (*Recorder)(nil)
)

// NewRecorder registers the visroute metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visroute_route_decisions_total",
				Help: "Total number of routing decisions by terminal path",
			},
			[]string{"state"},
		),
		capabilities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visroute_capability_uses_total",
				Help: "Total number of decisions each capability took part in",
			},
			[]string{"capability"},
		),
		samples: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "visroute_route_samples",
				Help:    "Text samples drawn per decision",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
		),
		consistency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "visroute_route_consistency",
				Help:    "Agreement of the initial sample batch",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visroute_eval_records_total",
				Help: "Total number of scored evaluation items",
			},
			[]string{"correct"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visroute_eval_skipped_total",
				Help: "Total number of evaluation items skipped",
			},
			[]string{"reason"},
		),
	}
}

// Routed records a routing decision.
func (r *Recorder) Routed(d *router.Decision) {
	if d == nil {
		return
	}
	r.decisions.WithLabelValues(string(d.State)).Inc()
	for _, kind := range d.Capabilities {
		r.capabilities.WithLabelValues(string(kind)).Inc()
	}
	r.samples.Observe(float64(d.SamplesUsed))
	r.consistency.Observe(d.Consistency)
}

// Recorded counts a scored evaluation record.
func (r *Recorder) Recorded(rec eval.Record) {
	r.records.WithLabelValues(strconv.FormatBool(rec.Correct)).Inc()
}

// Skipped counts an evaluation item that produced no record.
func (r *Recorder) Skipped(_ int, err error) {
	reason := "failed"
	if errors.Is(err, eval.ErrMalformedItem) {
		reason = "malformed"
	}
	r.skipped.WithLabelValues(reason).Inc()
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
