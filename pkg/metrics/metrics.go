package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Exporter Metrics
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crconsync_runs_total",
		Help: "The total number of export runs by outcome",
	}, []string{"outcome"})
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crconsync_run_duration_seconds",
		Help:    "Duration of a full export run",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
	LastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crconsync_last_success_timestamp_seconds",
		Help: "Unix time of the last committed export",
	})
	CursorPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crconsync_cursor_position",
		Help: "The committed last exported id per table",
	}, []string{"table"})

	// Extraction Metrics
	RowsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crconsync_rows_extracted_total",
		Help: "The total number of records extracted per table",
	}, []string{"table"})
	ExtractionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crconsync_extraction_errors_total",
		Help: "The total number of failed table extractions",
	}, []string{"table"})

	// Delivery Metrics
	DeliveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crconsync_delivery_attempts_total",
		Help: "The total number of delivery attempts by outcome",
	}, []string{"outcome"})
	DeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crconsync_delivery_latency_seconds",
		Help:    "Latency of a single delivery attempt",
		Buckets: prometheus.DefBuckets,
	})
)
