package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that completed including the missing sweep.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles aborted by fetch or store failures.
	OutcomeError = "error"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cotbridge",
			Name:      "decisions_total",
			Help:      "Lifecycle decisions made, partitioned by source and decision.",
		},
		[]string{"source", "decision"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cotbridge",
			Name:      "records_rejected_total",
			Help:      "Raw records dropped by the normalizer, partitioned by source.",
		},
		[]string{"source"},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cotbridge",
			Name:      "cycles_total",
			Help:      "Poll cycles run, partitioned by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	cycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cotbridge",
			Name:      "cycle_seconds",
			Help:      "Poll cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	eventsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cotbridge",
			Name:      "events_sent_total",
			Help:      "CoT events queued for delivery, partitioned by source.",
		},
		[]string{"source"},
	)

	senderReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cotbridge",
			Name:      "sender_reconnects_total",
			Help:      "Times the TAK connection was re-established.",
		},
	)
)

// Register attaches cotbridge collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		decisionsTotal,
		rejectedTotal,
		cyclesTotal,
		cycleSeconds,
		eventsSentTotal,
		senderReconnects,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDecision records one lifecycle decision.
func ObserveDecision(source, decision string) {
	decisionsTotal.WithLabelValues(source, decision).Inc()
}

// ObserveRejected records one record dropped by the normalizer.
func ObserveRejected(source string) {
	rejectedTotal.WithLabelValues(source).Inc()
}

// ObserveCycle records a completed poll cycle and its duration.
func ObserveCycle(source string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(source, label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleSeconds.Observe(duration.Seconds())
}

// ObserveEventSent records one event handed to the sender.
func ObserveEventSent(source string) {
	eventsSentTotal.WithLabelValues(source).Inc()
}

// ObserveSenderReconnect records a re-established TAK connection.
func ObserveSenderReconnect() {
	senderReconnects.Inc()
}
