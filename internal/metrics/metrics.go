// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts state manager operations by outcome.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "damp_operations_total",
		Help: "Total orchestration operations by component, operation and result",
	}, []string{"component", "operation", "result"})

	// operationDuration tracks how long operations take.
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "damp_operation_duration_seconds",
		Help:    "Orchestration operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"component", "operation"})

	// eventReconnects counts event stream reconnect attempts.
	eventReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "damp_event_reconnects_total",
		Help: "Total docker event stream reconnect attempts",
	})

	// eventsRelayed counts container events relayed by action.
	eventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "damp_events_relayed_total",
		Help: "Total container events relayed by action",
	}, []string{"action"})

	// orphanResources is the orphan count of the last reconciliation pass.
	orphanResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "damp_orphan_resources",
		Help: "Orphaned managed resources found by the last reconciliation",
	}, []string{"type"})
)

// Observe records the outcome and duration of an operation started at start.
func Observe(component, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(component, operation, result).Inc()
	operationDuration.WithLabelValues(component, operation).Observe(time.Since(start).Seconds())
}

// Reconnect records an event stream reconnect attempt.
func Reconnect() { eventReconnects.Inc() }

// Event records a relayed container event.
func Event(action string) { eventsRelayed.WithLabelValues(action).Inc() }

// Orphans sets the orphan gauge for a resource type.
func Orphans(resourceType string, n int) {
	orphanResources.WithLabelValues(resourceType).Set(float64(n))
}
