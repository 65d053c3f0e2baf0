package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert pipeline.
type Metrics struct {
	AlertsReceived  *prometheus.CounterVec // labels: format={direct,enveloped,compact,unknown}
	NormalizeErrors *prometheus.CounterVec // labels: kind={parse,validation,unsupported,other}
	AlertsDropped   *prometheus.CounterVec // labels: reason (policy drop reasons)
	AlertsDelivered prometheus.Counter
	AlertsQueued    prometheus.Counter
	DeliveryErrors  prometheus.Counter
	PendingAlerts   prometheus.Gauge
	SourceRunning   prometheus.Gauge

	// Ingest batch metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Sink metrics.
	SinkRequests    *prometheus.CounterVec // labels: endpoint={note,connectivity}, outcome={success,error}
	SinkAPIDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		AlertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "alerts_received_total",
			Help:      "Total inbound payloads by wire format.",
		}, []string{"format"}),
		NormalizeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "normalize_errors_total",
			Help:      "Total rejected payloads by error kind.",
		}, []string{"kind"}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "alerts_dropped_total",
			Help:      "Total alerts dropped by the posting policy, by reason.",
		}, []string{"reason"}),
		AlertsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "alerts_delivered_total",
			Help:      "Total notes successfully posted to the sink.",
		}),
		AlertsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "alerts_queued_total",
			Help:      "Total alerts deferred by the delivery spacing window.",
		}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "delivery_errors_total",
			Help:      "Total failed sink delivery attempts.",
		}),
		PendingAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eew",
			Name:      "pending_alerts",
			Help:      "Alerts currently waiting in the delivery queue.",
		}),
		SourceRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eew",
			Name:      "source_running",
			Help:      "1 when the Kafka source loop is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eew",
			Name:      "batch_size",
			Help:      "Number of payloads per ingested batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eew",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch normalize-filter-submit cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		SinkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eew",
			Name:      "sink_requests_total",
			Help:      "Sink API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		SinkAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eew",
			Name:      "sink_api_duration_seconds",
			Help:      "Sink API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	prometheus.MustRegister(
		m.AlertsReceived,
		m.NormalizeErrors,
		m.AlertsDropped,
		m.AlertsDelivered,
		m.AlertsQueued,
		m.DeliveryErrors,
		m.PendingAlerts,
		m.SourceRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.SinkRequests,
		m.SinkAPIDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		AlertsReceived:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "eew", Name: "alerts_received_total"}, []string{"format"}),
		NormalizeErrors:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "eew", Name: "normalize_errors_total"}, []string{"kind"}),
		AlertsDropped:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "eew", Name: "alerts_dropped_total"}, []string{"reason"}),
		AlertsDelivered:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "eew", Name: "alerts_delivered_total"}),
		AlertsQueued:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "eew", Name: "alerts_queued_total"}),
		DeliveryErrors:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "eew", Name: "delivery_errors_total"}),
		PendingAlerts:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "eew", Name: "pending_alerts"}),
		SourceRunning:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "eew", Name: "source_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "eew", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "eew", Name: "batch_processing_duration_seconds"}),
		SinkRequests:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "eew", Name: "sink_requests_total"}, []string{"endpoint", "outcome"}),
		SinkAPIDuration:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "eew", Name: "sink_api_duration_seconds"}),
	}
}
