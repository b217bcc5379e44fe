package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration tracks handler latency by route pattern and status.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devistree_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// editorOps counts editor operations by kind and outcome: applied,
	// noop or rejected.
	editorOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devistree_editor_operations_total",
		Help: "Editor operations by kind and result",
	}, []string{"op", "result"})

	// sessionsActive is the number of open editor sessions.
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devistree_editor_sessions_active",
		Help: "Open editor sessions",
	})
)

func recordOp(op string, applied bool) {
	result := "noop"
	if applied {
		result = "applied"
	}
	editorOps.WithLabelValues(op, result).Inc()
}
