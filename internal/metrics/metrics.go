// Package metrics exposes collector metrics to Prometheus and mirrors the
// interesting ones to CloudWatch through the logger.
//
// Registers:
//
//	pressureflow_cycles_total{outcome}
//	pressureflow_symbols_total{outcome,stage}
//	pressureflow_skipped_ticks_total
//	pressureflow_cycle_duration_seconds
//	pressureflow_market_imbalance_percent
//	pressureflow_used_weight{exchange}
//	pressureflow_rate_limit_events_total{exchange,kind}
//	pressureflow_archive_uploads_total{outcome}
//	pressureflow_archive_dropped_total
//	go_* and process_* system metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pressureflow/models"
)

const namespace = "pressureflow"

// Registry owns one prometheus registry and the collectors registered on it.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	cycles          *prometheus.CounterVec
	symbols         *prometheus.CounterVec
	skippedTicks    prometheus.Counter
	cycleDuration   prometheus.Histogram
	marketImbalance prometheus.Gauge
	usedWeight      *prometheus.GaugeVec
	rateLimits      *prometheus.CounterVec
	archiveUploads  *prometheus.CounterVec
	archiveDropped  prometheus.Counter
}

// New builds a Registry. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Collection cycles by outcome (completed, aborted, catalog_failed).",
		}, []string{"outcome"}),
		symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbols_total",
			Help:      "Per-symbol results by outcome and failure stage.",
		}, []string{"outcome", "stage"}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because a cycle was still running.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of collection cycles.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		marketImbalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_imbalance_percent",
			Help:      "Aggregate imbalance of the latest written market summary.",
		}),
		usedWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "used_weight",
			Help:      "Request weight consumed as reported by the exchange.",
		}, []string{"exchange"}),
		rateLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_events_total",
			Help:      "Rate limit and IP ban responses seen per exchange.",
		}, []string{"exchange", "kind"}),
		archiveUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Parquet archive uploads by outcome.",
		}, []string{"outcome"}),
		archiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_dropped_total",
			Help:      "Cycle reports dropped because the archive queue was full.",
		}),
	}

	r.reg.MustRegister(
		r.cycles, r.symbols, r.skippedTicks, r.cycleDuration, r.marketImbalance,
		r.usedWeight, r.rateLimits, r.archiveUploads, r.archiveDropped,
	)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and embedding.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveCycle records the outcome of one cycle report.
func (r *Registry) ObserveCycle(report *models.CycleReport) {
	if r == nil || report == nil {
		return
	}

	switch {
	case report.Aborted && report.Attempted == 0:
		r.cycles.WithLabelValues("catalog_failed").Inc()
	case report.Aborted:
		r.cycles.WithLabelValues("aborted").Inc()
	default:
		r.cycles.WithLabelValues("completed").Inc()
	}

	r.symbols.WithLabelValues("persisted", "").Add(float64(len(report.Records)))
	for _, f := range report.Failures {
		r.symbols.WithLabelValues("failed", string(f.Stage)).Inc()
	}
	r.cycleDuration.Observe(report.Duration.Seconds())
	if report.Summary != nil {
		r.marketImbalance.Set(report.Summary.TotalImbalance)
	}
}

func (r *Registry) IncSkippedTick() {
	if r == nil {
		return
	}
	r.skippedTicks.Inc()
}

func (r *Registry) SetUsedWeight(exchange string, used float64) {
	if r == nil {
		return
	}
	r.usedWeight.WithLabelValues(exchange).Set(used)
}

// IncRateLimit counts a limit event; kind is "rate_limit" or "ip_ban".
func (r *Registry) IncRateLimit(exchange, kind string) {
	if r == nil {
		return
	}
	r.rateLimits.WithLabelValues(exchange, kind).Inc()
}

func (r *Registry) IncArchiveUpload(outcome string) {
	if r == nil {
		return
	}
	r.archiveUploads.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncArchiveDropped() {
	if r == nil {
		return
	}
	r.archiveDropped.Inc()
}
