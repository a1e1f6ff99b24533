package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// acquisition and processing toolkit.
type Metrics struct {
	ExportTasksSubmitted prometheus.Counter
	ExportTasksSkipped   prometheus.Counter
	ExportThrottleWaits  prometheus.Counter
	ExportRunning        prometheus.Gauge

	FetchRequests   *prometheus.CounterVec   // labels: service={overpass,landfire,earthengine}, outcome={success,error,empty}
	FetchRetries    *prometheus.CounterVec   // labels: service
	FetchDuration   *prometheus.HistogramVec // labels: service
	FeaturesWritten prometheus.Counter

	RegridDuration  prometheus.Histogram
	DatasetsSkipped prometheus.Counter
	FallbacksUsed   *prometheus.CounterVec // labels: stage={interp,temporal,spatial,reproject}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ExportTasksSubmitted,
		m.ExportTasksSkipped,
		m.ExportThrottleWaits,
		m.ExportRunning,
		m.FetchRequests,
		m.FetchRetries,
		m.FetchDuration,
		m.FeaturesWritten,
		m.RegridDuration,
		m.DatasetsSkipped,
		m.FallbacksUsed,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ExportTasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "export_tasks_submitted_total",
			Help:      "Total remote export tasks queued.",
		}),
		ExportTasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "export_tasks_skipped_total",
			Help:      "Export combinations skipped because they were already completed or empty.",
		}),
		ExportThrottleWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "export_throttle_waits_total",
			Help:      "Times the exporter slept waiting for the active-task ceiling.",
		}),
		ExportRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "datacube",
			Name:      "export_running",
			Help:      "1 while a batch export run is active.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "fetch_requests_total",
			Help:      "Remote fetch requests by service and outcome.",
		}, []string{"service", "outcome"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "fetch_retries_total",
			Help:      "Retry attempts by service.",
		}, []string{"service"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datacube",
			Name:      "fetch_duration_seconds",
			Help:      "Remote request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"service"}),
		FeaturesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "features_written_total",
			Help:      "GeoJSON features published to the optional Kafka sink.",
		}),
		RegridDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "datacube",
			Name:      "regrid_duration_seconds",
			Help:      "Duration of a full dataset regrid onto the unified grid.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		}),
		DatasetsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "datasets_skipped_total",
			Help:      "Datasets dropped from a merge because their dimensions could not be identified.",
		}),
		FallbacksUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacube",
			Name:      "fallbacks_used_total",
			Help:      "Approximate fallback paths taken by processing stage.",
		}, []string{"stage"}),
	}
}
