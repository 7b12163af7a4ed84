// Package middleware provides the HTTP middleware used by the sablod
// daemon: structured request logging, Prometheus metrics, and OpenTelemetry
// spans for the non-websocket surface.
package middleware
