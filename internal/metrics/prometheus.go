// Package metrics exposes Prometheus counters/histograms/gauges for the
// cache pipeline, adapted from the teacher's generic named-registry pattern
// down to CacheVoice's own metric set.
package metrics

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds named counter/histogram/gauge vectors, registered
// once at construction and addressed by name thereafter.
type PrometheusMetrics struct {
    counters   map[string]*prometheus.CounterVec
    histograms map[string]*prometheus.HistogramVec
    gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics registers and returns the CacheVoice metric set.
func NewPrometheusMetrics() *PrometheusMetrics {
    pm := &PrometheusMetrics{
        counters:   make(map[string]*prometheus.CounterVec),
        histograms: make(map[string]*prometheus.HistogramVec),
        gauges:     make(map[string]*prometheus.GaugeVec),
    }
    pm.registerMetrics()
    return pm
}

func (pm *PrometheusMetrics) registerMetrics() {
    pm.counters["cache_lookups_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "cachevoice_lookups_total",
            Help: "Total cache lookups by outcome",
        },
        []string{"reason_code"},
    )

    pm.counters["provider_calls_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "cachevoice_provider_calls_total",
            Help: "Total upstream provider calls by provider and outcome",
        },
        []string{"provider", "status"},
    )

    pm.counters["warmups_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "cachevoice_warmups_total",
            Help: "Total background warm-up tasks by outcome",
        },
        []string{"status"},
    )

    pm.counters["evictions_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "cachevoice_evictions_total",
            Help: "Total cache entries evicted",
        },
        []string{},
    )

    pm.counters["reconciler_orphans_total"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "cachevoice_reconciler_orphans_total",
            Help: "Total orphans removed at startup by kind",
        },
        []string{"kind"},
    )

    // Histograms
    pm.histograms["provider_call_duration"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "cachevoice_provider_call_duration_seconds",
            Help:    "Upstream provider synthesize call duration",
            Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
        },
        []string{"provider"},
    )

    pm.histograms["request_duration"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "cachevoice_request_duration_seconds",
            Help:    "End-to-end /v1/audio/speech request duration",
            Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
        },
        []string{"reason_code"},
    )

    // Gauges
    pm.gauges["hot_index_size"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "cachevoice_hot_index_size",
            Help: "Number of (voice, text) buckets currently in the Hot Index",
        },
        []string{},
    )

    pm.gauges["in_flight_warmups"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "cachevoice_in_flight_warmups",
            Help: "Number of warm-up tasks currently in flight",
        },
        []string{},
    )

    for _, counter := range pm.counters {
        prometheus.MustRegister(counter)
    }
    for _, histogram := range pm.histograms {
        prometheus.MustRegister(histogram)
    }
    for _, gauge := range pm.gauges {
        prometheus.MustRegister(gauge)
    }
}

// IncrementCounter increments a named counter with the given label values.
func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
    if counter, exists := pm.counters[name]; exists {
        counter.With(prometheus.Labels(labels)).Inc()
    }
}

// ObserveHistogram records an observation against a named histogram.
func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
    if histogram, exists := pm.histograms[name]; exists {
        histogram.With(prometheus.Labels(labels)).Observe(value)
    }
}

// SetGauge sets a named gauge's current value.
func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
    if gauge, exists := pm.gauges[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        gauge.With(prometheus.Labels(labels)).Set(value)
    }
}

// Handler returns the promhttp handler for mounting on the main router at
// /metrics, rather than running its own listener like the teacher did.
func (pm *PrometheusMetrics) Handler() http.Handler {
    return promhttp.Handler()
}
