package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpMetricsOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
)

func initHTTPMetrics() {
	httpMetricsOnce.Do(func() {
		httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sablo", Subsystem: "http",
			Name: "requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"})
		httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sablo", Subsystem: "http",
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"})
	})
}

// Metrics records request counts and latency. Status and method are the
// only labels; paths are unbounded and stay out of the label set.
func Metrics() func(http.Handler) http.Handler {
	initHTTPMetrics()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			httpRequests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
			httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
