// Package metrics exposes Prometheus collectors for conversions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kdocs2pdf"

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ConversionMetrics tracks conversion attempts. A nil *ConversionMetrics
// records nothing.
type ConversionMetrics struct {
	Total     *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	InFlight  prometheus.Gauge
	CacheHits prometheus.Counter
	Downloads *prometheus.CounterVec
}

// NewConversionMetrics creates and registers the collectors on reg.
func NewConversionMetrics(reg prometheus.Registerer) *ConversionMetrics {
	m := &ConversionMetrics{
		Total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "total",
			Help:      "Conversion attempts by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "duration_seconds",
			Help:      "Wall time of conversion attempts.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "in_flight",
			Help:      "Browser sessions currently open.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "cache_hits_total",
			Help:      "Conversions answered from the result cache.",
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "total",
			Help:      "Download requests by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Total, m.Duration, m.InFlight, m.CacheHits, m.Downloads)
	return m
}

// Begin marks a session as open and returns a func that records the outcome.
func (m *ConversionMetrics) Begin() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.InFlight.Inc()
	return func(outcome string) {
		m.InFlight.Dec()
		m.Total.WithLabelValues(outcome).Inc()
		m.Duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

func (m *ConversionMetrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *ConversionMetrics) Download(status string) {
	if m != nil {
		m.Downloads.WithLabelValues(status).Inc()
	}
}
