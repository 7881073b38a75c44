package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	zoomRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_api_requests_total",
			Help: "Zoom API requests by operation and HTTP status",
		},
		[]string{"op", "status"},
	)

	zoomTokenRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_token_refresh_total",
			Help: "Zoom access token refresh attempts",
		},
		[]string{"result"},
	)

	appointmentAccept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_accept_total",
			Help: "Appointment acceptance outcomes",
		},
		[]string{"result"},
	)

	invitationEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitation_emails_total",
			Help: "Meeting invitation emails by result",
		},
		[]string{"result"},
	)

	marketplaceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_request_duration_seconds",
			Help:    "Marketplace API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TrackZoomRequest counts a Zoom API call. status 0 means a transport error.
func TrackZoomRequest(op string, status int) {
	zoomRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
}

// TrackZoomRefresh counts a refresh attempt ("ok" or "error").
func TrackZoomRefresh(result string) {
	zoomTokenRefresh.WithLabelValues(result).Inc()
}

// TrackAccept counts an appointment acceptance outcome.
func TrackAccept(result string) {
	appointmentAccept.WithLabelValues(result).Inc()
}

// TrackInvitation counts an invitation send ("sent", "failed", "skipped").
func TrackInvitation(result string) {
	invitationEmails.WithLabelValues(result).Inc()
}

// ObserveMarketplace records how long a marketplace call took.
func ObserveMarketplace(op string, started time.Time) {
	marketplaceDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
