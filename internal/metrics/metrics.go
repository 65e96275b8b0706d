package metrics

import (
	"net/http"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for AnalysesTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// MetricsRegistry holds the Prometheus metrics exported by the detector.
type MetricsRegistry struct {
	registry *prometheus.Registry

	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	DroppedRows      prometheus.Histogram
	RegimeAssets     *prometheus.GaugeVec
	HTTPRequests     *prometheus.CounterVec
}

// NewMetricsRegistry creates a registry with all detector metrics and the
// Go runtime collectors registered.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		AnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoupling_analyses_total",
				Help: "Total number of decoupling analyses by outcome",
			},
			[]string{"outcome"},
		),

		AnalysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "decoupling_analysis_duration_seconds",
				Help:    "Duration of a decoupling analysis including price loading",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),

		DroppedRows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "decoupling_dropped_rows",
				Help:    "Return rows dropped by the aligned-sample policy per analysis",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),

		RegimeAssets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decoupling_regime_assets",
				Help: "Number of assets in each regime at the last analysis, per benchmark",
			},
			[]string{"benchmark", "regime"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decoupling_http_requests_total",
				Help: "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.DroppedRows,
		m.RegimeAssets,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAnalysis records the outcome and duration of one analysis. result
// may be nil when the analysis failed.
func (m *MetricsRegistry) RecordAnalysis(outcome string, duration time.Duration, result *analysis.Result) {
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	if result == nil {
		return
	}

	m.DroppedRows.Observe(float64(result.DroppedRows))

	counts := map[analysis.Regime]int{
		analysis.RegimeUndefined: 0,
		analysis.RegimeDecoupled: 0,
		analysis.RegimeLinked:    0,
		analysis.RegimeLockstep:  0,
	}
	for _, s := range result.Summaries {
		counts[s.Regime]++
	}
	for regime, n := range counts {
		m.RegimeAssets.WithLabelValues(string(result.Benchmark), regime.String()).Set(float64(n))
	}
}

// RecordHTTPRequest counts one served HTTP request.
func (m *MetricsRegistry) RecordHTTPRequest(method, route string, status int) {
	m.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
}
