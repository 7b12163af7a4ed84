package eventdispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus metrics for event dispatching. They are
// process-wide: dispatchers are per-session and come and go, so per-level
// counters are labeled rather than per-instance.
type metrics struct {
	eventsQueued    *prometheus.CounterVec
	eventsRun       *prometheus.CounterVec
	eventPanics     prometheus.Counter
	suspends        prometheus.Counter
	suspendTimeouts prometheus.Counter
	suspendCancels  prometheus.Counter
}

var (
	globalMetrics     *metrics
	globalMetricsOnce sync.Once
)

func getMetrics() *metrics {
	globalMetricsOnce.Do(func() {
		factory := promauto.With(prometheus.DefaultRegisterer)
		globalMetrics = &metrics{
			eventsQueued: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sablo",
				Subsystem: "dispatch",
				Name:      "events_queued_total",
				Help:      "Total events enqueued, by level",
			}, []string{"level"}),
			eventsRun: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sablo",
				Subsystem: "dispatch",
				Name:      "events_run_total",
				Help:      "Total events executed, by level",
			}, []string{"level"}),
			eventPanics: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "sablo",
				Subsystem: "dispatch",
				Name:      "event_panics_total",
				Help:      "Total panics recovered inside dispatched events",
			}),
			suspends: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "sablo",
				Subsystem: "dispatch",
				Name:      "suspends_total",
				Help:      "Total events parked waiting for a correlated response",
			}),
			suspendTimeouts: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "sablo",
				Subsystem: "dispatch",
				Name:      "suspend_timeouts_total",
				Help:      "Total suspensions resolved by timeout",
			}),
			suspendCancels: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "sablo",
				Subsystem: "dispatch",
				Name:      "suspend_cancels_total",
				Help:      "Total suspensions resolved by cancellation",
			}),
		}
	})
	return globalMetrics
}

func recordEventQueued(level Level) {
	getMetrics().eventsQueued.WithLabelValues(level.String()).Inc()
}

func recordEventDispatched(level Level) {
	getMetrics().eventsRun.WithLabelValues(level.String()).Inc()
}

func recordEventPanic() {
	getMetrics().eventPanics.Inc()
}

func recordSuspend() {
	getMetrics().suspends.Inc()
}

func recordSuspendTimeout() {
	getMetrics().suspendTimeouts.Inc()
}

func recordSuspendCancel() {
	getMetrics().suspendCancels.Inc()
}
