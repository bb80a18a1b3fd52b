// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session Metrics
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waweb_sessions_active",
		Help: "The current number of device sessions in the registry.",
	})
	SessionInitializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waweb_session_initializations_total",
		Help: "Session initializations by result.",
	}, []string{"result"})
	SessionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waweb_session_evictions_total",
		Help: "The total number of sessions evicted for being idle.",
	})
	AuthWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waweb_auth_wait_seconds",
		Help:    "Time spent waiting for a scan code to be scanned.",
		Buckets: []float64{5, 15, 30, 60, 120, 180, 240, 300},
	})

	// Message Metrics
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waweb_messages_sent_total",
		Help: "Message send attempts by result.",
	}, []string{"result"})
	MediaFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waweb_media_failures_total",
		Help: "Media attachments that failed and were skipped.",
	})

	// HTTP Metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waweb_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
