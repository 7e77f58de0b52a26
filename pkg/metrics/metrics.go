package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides pipeline metrics collection
type Collector struct {
	// Ingestion metrics
	RecordsParsedTotal  *prometheus.CounterVec
	RecordsDroppedTotal *prometheus.CounterVec
	IngestionDuration   prometheus.Histogram

	// Daily aggregation metrics
	DaysAggregatedTotal prometheus.Counter
	DaysExcludedTotal   *prometheus.CounterVec

	// Pairing metrics
	PairsEmittedTotal  prometheus.Counter
	PairsExcludedTotal *prometheus.CounterVec

	// Windowed aggregation metrics
	WindowDurationHours  prometheus.Histogram
	WindowCoverageScore  *prometheus.HistogramVec
	FeatureQueryDuration *prometheus.HistogramVec

	// Wind store metrics
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec

	// Run metrics
	DeploymentsProcessed prometheus.Counter
	DeploymentsFailed    prometheus.Counter
	RunDuration          prometheus.Histogram
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	return &Collector{
		RecordsParsedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_parsed_total",
				Help:      "Total number of source records parsed by source type",
			},
			[]string{"source"},
		),

		RecordsDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Total number of malformed source records dropped by source and reason",
			},
			[]string{"source", "reason"},
		),

		IngestionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of source reads in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),

		DaysAggregatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "days_aggregated_total",
				Help:      "Total number of deployment-days that passed the photo-count bounds",
			},
		),

		DaysExcludedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "days_excluded_total",
				Help:      "Total number of deployment-days excluded by reason",
			},
			[]string{"reason"},
		),

		PairsEmittedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_emitted_total",
				Help:      "Total number of lag pairs emitted",
			},
		),

		PairsExcludedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_excluded_total",
				Help:      "Total number of candidate pairs excluded by rule",
			},
			[]string{"reason"},
		),

		WindowDurationHours: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "window_duration_hours",
				Help:      "Exposure window duration in hours",
				Buckets:   []float64{12, 18, 22, 24, 26, 28, 30, 32, 36, 48},
			},
		),

		WindowCoverageScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "window_coverage_score",
				Help:      "Per-source coverage score of exposure windows",
				Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
			},
			[]string{"source"},
		),

		FeatureQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feature_query_duration_seconds",
				Help:      "Windowed feature aggregation duration in seconds by source",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"source"},
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Wind store query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of wind store errors by type",
			},
			[]string{"error_type"},
		),

		DeploymentsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_processed_total",
				Help:      "Total number of deployments fully processed",
			},
		),

		DeploymentsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_failed_total",
				Help:      "Total number of deployments that failed and were isolated",
			},
		),

		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "End-to-end batch run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordParsed increments the parsed-record counter for a source
func (c *Collector) RecordParsed(source string, n int) {
	c.RecordsParsedTotal.WithLabelValues(source).Add(float64(n))
}

// RecordDropped increments the dropped-record counter for a source and reason
func (c *Collector) RecordDropped(source, reason string) {
	c.RecordsDroppedTotal.WithLabelValues(source, reason).Inc()
}

// RecordDayExcluded increments the excluded-day counter for a reason
func (c *Collector) RecordDayExcluded(reason string) {
	c.DaysExcludedTotal.WithLabelValues(reason).Inc()
}

// RecordPairExcluded increments the excluded-pair counter for a reason
func (c *Collector) RecordPairExcluded(reason string) {
	c.PairsExcludedTotal.WithLabelValues(reason).Inc()
}

// RecordCoverage observes per-source coverage scores for one window
func (c *Collector) RecordCoverage(temp, wind, butterfly float64) {
	c.WindowCoverageScore.WithLabelValues("temperature").Observe(temp)
	c.WindowCoverageScore.WithLabelValues("wind").Observe(wind)
	c.WindowCoverageScore.WithLabelValues("butterfly").Observe(butterfly)
}

// RecordDBError increments the wind store error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}
