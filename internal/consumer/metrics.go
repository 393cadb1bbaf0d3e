package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedfan",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Number of fan-out jobs successfully handled.",
	}, []string{"topic", "operation"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedfan",
		Subsystem: "worker",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and operation.",
	}, []string{"topic", "operation"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedfan",
		Subsystem: "worker",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastJobGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "feedfan",
		Subsystem: "worker",
		Name:      "last_job_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed job per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, lastJobGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.Operation).Inc()
	if !msg.Timestamp.IsZero() {
		lastJobGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.Operation).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

// RecordLag allows external callers (e.g. tests) to set the last timestamp gauge directly.
func RecordLag(topic string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastJobGauge.WithLabelValues(topic).Set(float64(ts.Unix()))
}
