// Package metrics exposes Prometheus collectors for approval lifecycle
// events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Trigger names the actor that caused a terminal transition.
const (
	TriggerActivity = "activity"
	TriggerFinalize = "finalize"
	TriggerExpire   = "expire"
	TriggerSweep    = "sweep"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_transitions_total",
			Help: "Total number of terminal approval transitions",
		},
		[]string{"status", "trigger"},
	)

	activitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_activities_total",
			Help: "Total number of recorded approver activities",
		},
		[]string{"action"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_notifications_total",
			Help: "Total number of completion notifications",
		},
		[]string{"result"},
	)

	sweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_sweeps_total",
			Help: "Total number of expiry sweeps",
		},
	)

	txRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_tx_retries_total",
			Help: "Total number of retried transactions after a write conflict",
		},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_operation_duration_seconds",
			Help:    "Approval service operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation", "status"},
	)
)

// RecordTransition counts a won transition out of WAITING.
func RecordTransition(status, trigger string) {
	transitionsTotal.WithLabelValues(status, trigger).Inc()
}

// RecordActivity counts a persisted approver decision.
func RecordActivity(action string) {
	activitiesTotal.WithLabelValues(action).Inc()
}

// RecordNotification counts a completion signal, failed when err != nil.
func RecordNotification(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	notificationsTotal.WithLabelValues(result).Inc()
}

// RecordSweep counts an expiry sweep.
func RecordSweep() {
	sweepsTotal.Inc()
}

// RecordRetry counts a transaction retry.
func RecordRetry() {
	txRetriesTotal.Inc()
}

// ObserveOperation records the duration of an operation started at start.
func ObserveOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	operationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
