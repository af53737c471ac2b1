package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what pipeline components report to.
type Recorder interface {
	RecordIngestion(result string, duration time.Duration)
	RecordLockError()
	RecordAlert(outcome string)
	RecordEvaluationError()
	RecordDelivery(outcome string)
	RecordRedelivery()
	RecordDeadLetter()
}

// Ingestion results
const (
	IngestSuccess    = "success"
	IngestFailed     = "failed"
	IngestInProgress = "in_progress"
	IngestNotFound   = "not_found"
)

// Alert outcomes
const (
	AlertEnqueued = "enqueued"
	AlertLost     = "lost"
)

// Delivery outcomes
const (
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
	DeliveryRejected = "rejected"
	DeliveryDropped  = "dropped"
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	ingestions      *prometheus.CounterVec
	ingestLatency   prometheus.Histogram
	lockErrors      prometheus.Counter
	alerts          *prometheus.CounterVec
	evaluationError prometheus.Counter
	deliveries      *prometheus.CounterVec
	redeliveries    prometheus.Counter
	deadLetters     prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_ingestions_total",
			Help: "City ingestions by result",
		}, []string{"result"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_ingestion_duration_seconds",
			Help:    "Time to fetch, persist and evaluate one city",
			Buckets: prometheus.DefBuckets,
		}),
		lockErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_ingest_lock_errors_total",
			Help: "Ingestions that fell back to the in-process guard because the shared lock was unreachable",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_alerts_total",
			Help: "Threshold alerts by enqueue outcome",
		}, []string{"outcome"}),
		evaluationError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_evaluation_errors_total",
			Help: "Subscribers that could not be evaluated",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_deliveries_total",
			Help: "Notification delivery attempts by outcome",
		}, []string{"outcome"}),
		redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_redeliveries_total",
			Help: "Notifications scheduled for another delivery attempt",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_dead_letters_total",
			Help: "Notifications moved to the dead-letter channel",
		}),
	}

	reg.MustRegister(
		c.ingestions,
		c.ingestLatency,
		c.lockErrors,
		c.alerts,
		c.evaluationError,
		c.deliveries,
		c.redeliveries,
		c.deadLetters,
	)

	return c
}

func (c *Collector) RecordIngestion(result string, duration time.Duration) {
	c.ingestions.WithLabelValues(result).Inc()
	if result == IngestSuccess {
		c.ingestLatency.Observe(duration.Seconds())
	}
}

func (c *Collector) RecordLockError() {
	c.lockErrors.Inc()
}

func (c *Collector) RecordAlert(outcome string) {
	c.alerts.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordEvaluationError() {
	c.evaluationError.Inc()
}

func (c *Collector) RecordDelivery(outcome string) {
	c.deliveries.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRedelivery() {
	c.redeliveries.Inc()
}

func (c *Collector) RecordDeadLetter() {
	c.deadLetters.Inc()
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordIngestion(string, time.Duration) {}
func (Nop) RecordLockError()                      {}
func (Nop) RecordAlert(string)                    {}
func (Nop) RecordEvaluationError()                {}
func (Nop) RecordDelivery(string)                 {}
func (Nop) RecordRedelivery()                     {}
func (Nop) RecordDeadLetter()                     {}
