// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the licensing engine. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	validations     *prometheus.CounterVec
	activations     *prometheus.CounterVec
	entitlements    *prometheus.CounterVec
	licensesCreated *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	storeRetries    *prometheus.CounterVec
	lastCheckDrops  prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "engine",
				Name:      "validations_total",
				Help:      "License validations partitioned by resulting status.",
			},
			[]string{"status"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "engine",
				Name:      "activations_total",
				Help:      "Activation attempts partitioned by result.",
			},
			[]string{"result"},
		),
		entitlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "engine",
				Name:      "entitlement_checks_total",
				Help:      "Feature entitlement decisions partitioned by operation and reason.",
			},
			[]string{"operation", "reason"},
		),
		licensesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "engine",
				Name:      "licenses_created_total",
				Help:      "Licenses issued partitioned by type and origin.",
			},
			[]string{"type", "origin"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "engine",
				Name:      "transfers_total",
				Help:      "Ownership transfer attempts partitioned by result.",
			},
			[]string{"result"},
		),
		storeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "store",
				Name:      "retries_total",
				Help:      "Store operations retried after a transient failure.",
			},
			[]string{"op"},
		),
		lastCheckDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "licensing",
				Subsystem: "engine",
				Name:      "last_check_dropped_total",
				Help:      "last_check updates dropped because the writer queue was full.",
			},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "licensing",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency partitioned by route and status.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.validations,
			m.activations,
			m.entitlements,
			m.licensesCreated,
			m.transfers,
			m.storeRetries,
			m.lastCheckDrops,
			m.requestDuration,
		)
	}
	return m
}

func (m *Metrics) RecordValidation(status string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordActivation(result string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEntitlement(operation, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "granted"
	}
	m.entitlements.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) RecordLicenseCreated(licenseType, origin string) {
	if m == nil {
		return
	}
	m.licensesCreated.WithLabelValues(licenseType, origin).Inc()
}

func (m *Metrics) RecordTransfer(result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordLastCheckDropped() {
	if m == nil {
		return
	}
	m.lastCheckDrops.Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}
