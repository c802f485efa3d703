package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification channels used as the "channel" label
const (
	ChannelBroadcast = "broadcast"
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	IngestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_ingest_records_total",
			Help: "Total number of records received",
		},
		[]string{"source", "status"}, // status: accepted, rejected
	)

	// Evaluation metrics
	RecordsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_records_processed_total",
			Help: "Total number of records evaluated",
		},
		[]string{"type", "outcome"}, // outcome: clean, alerted
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_alerts_total",
			Help: "Total number of alerts produced, by alert title",
		},
		[]string{"title"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safewatch_evaluation_duration_seconds",
			Help:    "Time taken to run the rule catalog against one record",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safewatch_escalations_total",
			Help: "Total number of records whose alerts were escalated",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_notifications_total",
			Help: "Total number of notification attempts",
		},
		[]string{"channel", "status"}, // status: success, failed, skipped
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safewatch_notification_duration_seconds",
			Help:    "Time taken by one notification send",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safewatch_worker_queue_size",
			Help: "Current size of the worker queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safewatch_worker_queue_capacity",
			Help: "Capacity of the worker queue",
		},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_kafka_publish_total",
			Help: "Total number of notification messages published to Kafka",
		},
		[]string{"status"},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safewatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaRecordsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_kafka_records_consumed_total",
			Help: "Total number of record messages read from Kafka",
		},
		[]string{"status"}, // status: accepted, malformed
	)

	// Websocket hub
	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safewatch_hub_subscribers",
			Help: "Current number of websocket subscribers",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
