// Package observability registers the engine's Prometheus metrics.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	fanoutBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedfan",
		Subsystem: "fanout",
		Name:      "batches_total",
		Help:      "Number of fan-out batches dispatched, labeled by path (inline or queued).",
	}, []string{"path"})

	entriesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedfan",
		Subsystem: "fanout",
		Name:      "entries_written_total",
		Help:      "Number of activity feed entries written by fan-out and copy-on-follow.",
	})

	copyOnFollow = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedfan",
		Subsystem: "follow",
		Name:      "entries_copied_total",
		Help:      "Number of entries backfilled into follower feeds at follow time.",
	})

	readDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feedfan",
		Subsystem: "read",
		Name:      "duration_seconds",
		Help:      "Time spent fetching, merging, and materializing a feed read.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	readWindowEntries = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feedfan",
		Subsystem: "read",
		Name:      "window_entries",
		Help:      "Entries fetched into the bounded read window per feed read.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
	})
)

func init() {
	prometheus.MustRegister(fanoutBatches, entriesWritten, copyOnFollow, readDuration, readWindowEntries)
}

// RecordFanoutBatch counts one dispatched fan-out batch.
func RecordFanoutBatch(queued bool) {
	path := "inline"
	if queued {
		path = "queued"
	}
	fanoutBatches.WithLabelValues(path).Inc()
}

// RecordEntriesWritten counts entries committed by a bulk insert.
func RecordEntriesWritten(n int) {
	entriesWritten.Add(float64(n))
}

// RecordCopyOnFollow counts entries backfilled during a follow.
func RecordCopyOnFollow(n int) {
	copyOnFollow.Add(float64(n))
}

// ObserveRead records the duration and window size of one feed read.
func ObserveRead(seconds float64, windowEntries int) {
	readDuration.Observe(seconds)
	readWindowEntries.Observe(float64(windowEntries))
}
