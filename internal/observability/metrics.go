package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// collection service.
type Metrics struct {
	RequestsConsumed prometheus.Counter
	RequestErrors    prometheus.Counter
	PipelineRunning  prometheus.Gauge
	BatchSize        prometheus.Histogram

	// Collection metrics.
	Collections        *prometheus.CounterVec // labels: mode={bootstrap,gap_fill}, outcome={collected,up_to_date,no_data,storage_error}
	CollectionDuration prometheus.Histogram
	MonthsFilled       prometheus.Counter
	MonthsEmpty        prometheus.Counter
	ImagesAggregated   prometheus.Histogram

	// Imagery backend metrics.
	ImageryRequests *prometheus.CounterVec // labels: op={search,statistics}, outcome={success,error}

	// Warehouse metrics.
	WarehouseAppends *prometheus.CounterVec // labels: outcome={success,error}

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.RequestsConsumed,
		m.RequestErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.Collections,
		m.CollectionDuration,
		m.MonthsFilled,
		m.MonthsEmpty,
		m.ImagesAggregated,
		m.ImageryRequests,
		m.WarehouseAppends,
		m.GeocodeRequests,
		m.GeocodeCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with no registration to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "requests_consumed_total",
			Help:      "Total collection requests read from the request topic.",
		}),
		RequestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "request_errors_total",
			Help:      "Total malformed collection requests skipped.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "satveg",
			Name:      "pipeline_running",
			Help:      "1 when the request pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "satveg",
			Name:      "batch_size",
			Help:      "Number of requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		Collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "collections_total",
			Help:      "Collection runs by plan mode and outcome.",
		}, []string{"mode", "outcome"}),
		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "satveg",
			Name:      "collection_duration_seconds",
			Help:      "Duration of a complete collection run for one region.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		MonthsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "months_filled_total",
			Help:      "Total monthly observations written to the warehouse.",
		}),
		MonthsEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "months_empty_total",
			Help:      "Planned months that yielded no usable imagery.",
		}),
		ImagesAggregated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "satveg",
			Name:      "images_aggregated",
			Help:      "Number of images contributing to one monthly observation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		ImageryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "imagery_requests_total",
			Help:      "Imagery backend requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		WarehouseAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "warehouse_appends_total",
			Help:      "Warehouse batch appends by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satveg",
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
	}
}
