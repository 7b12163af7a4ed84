package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	sessionsActive  prometheus.Gauge
	windowsActive   prometheus.Gauge
	endpointsActive prometheus.Gauge

	pendingCallsGauge prometheus.Gauge

	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	bytesReceived    prometheus.Counter
	bytesSent        prometheus.Counter
	protocolErrors   prometheus.Counter
	staleResponses   prometheus.Counter
	outOfSyncCloses  prometheus.Counter
	clientCalls      *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "sessions_active",
			Help: "Live sessions held by the manager.",
		})
		windowsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "windows_active",
			Help: "Windows registered across all sessions.",
		})
		endpointsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "endpoints_active",
			Help: "Open websocket endpoints.",
		})
		pendingCallsGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "pending_calls",
			Help: "Blocking client calls awaiting a browser response.",
		})
		messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "messages_received_total",
			Help: "Inbound websocket messages, heartbeats included.",
		})
		messagesSent = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "messages_sent_total",
			Help: "Outbound framed messages.",
		})
		bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "bytes_received_total",
			Help: "Inbound websocket payload bytes.",
		})
		bytesSent = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "bytes_sent_total",
			Help: "Outbound websocket payload bytes.",
		})
		protocolErrors = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "protocol_errors_total",
			Help: "Inbound frames dropped as malformed.",
		})
		staleResponses = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "stale_call_responses_total",
			Help: "Call responses discarded because no call was waiting.",
		})
		outOfSyncCloses = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "out_of_sync_closes_total",
			Help: "Connections rejected because the client's session is gone.",
		})
		clientCalls = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "server",
			Name: "client_calls_total",
			Help: "Blocking server-to-client calls by outcome.",
		}, []string{"outcome"})
	})
}

func init() { initMetrics() }

func recordMessageReceived(bytes int) {
	messagesReceived.Inc()
	bytesReceived.Add(float64(bytes))
}

func recordMessageSent(bytes int) {
	messagesSent.Inc()
	bytesSent.Add(float64(bytes))
}

func recordProtocolError()  { protocolErrors.Inc() }
func recordStaleResponse()  { staleResponses.Inc() }
func recordOutOfSyncClose() { outOfSyncCloses.Inc() }

func recordClientCall(outcome string) {
	clientCalls.WithLabelValues(outcome).Inc()
}
