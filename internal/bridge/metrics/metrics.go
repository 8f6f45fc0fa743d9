// Package metrics exposes bridge operation counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks bridge-level Prometheus metrics.
//
// All metrics use the nearbridge_ prefix. The nil receiver is a no-op
// collector so call sites never need to guard against missing metrics.
type Metrics struct {
	// OperationsTotal counts API operations by name and status
	OperationsTotal *prometheus.CounterVec

	// OperationDuration tracks operation latency distribution
	OperationDuration *prometheus.HistogramVec

	// EventsPublished counts events by type
	EventsPublished *prometheus.CounterVec

	// ActiveSessions tracks registered callback sessions
	ActiveSessions prometheus.Gauge

	// ActiveTransfers tracks in-flight payload transfers
	ActiveTransfers prometheus.Gauge

	// PayloadBytesTotal counts payload bytes by direction
	PayloadBytesTotal *prometheus.CounterVec

	// TransfersTotal counts terminal payload transfers by status
	TransfersTotal *prometheus.CounterVec
}

// NewMetrics creates bridge metrics registered against reg. Panics if
// registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nearbridge_operations_total",
				Help: "Total API operations by name and status",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nearbridge_operation_duration_seconds",
				Help:    "API operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nearbridge_events_published_total",
				Help: "Total events published by type",
			},
			[]string{"type"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nearbridge_active_sessions",
				Help: "Current number of registered callback sessions",
			},
		),
		ActiveTransfers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nearbridge_active_transfers",
				Help: "Current number of in-flight payload transfers",
			},
		),
		PayloadBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nearbridge_payload_bytes_total",
				Help: "Total payload bytes by direction",
			},
			[]string{"direction"}, // "sent", "received"
		),
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nearbridge_transfers_total",
				Help: "Total terminal payload transfers by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.EventsPublished,
		m.ActiveSessions,
		m.ActiveTransfers,
		m.PayloadBytesTotal,
		m.TransfersTotal,
	)

	return m
}

// RecordOperation records an API operation completion.
func (m *Metrics) RecordOperation(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordEvent counts a published event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// SetActiveSessions updates the session gauge.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// SetActiveTransfers updates the transfer gauge.
func (m *Metrics) SetActiveTransfers(count int) {
	if m == nil {
		return
	}
	m.ActiveTransfers.Set(float64(count))
}

// RecordTransfer counts one terminal payload transfer.
func (m *Metrics) RecordTransfer(status string) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(status).Inc()
}

// AddPayloadBytes counts payload bytes moved in one direction.
func (m *Metrics) AddPayloadBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PayloadBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// NullMetrics returns nil, which acts as a no-op metrics collector.
// All Metrics methods handle nil receiver gracefully.
func NullMetrics() *Metrics {
	return nil
}
