// Package metrics provides Prometheus metrics collection for the engine and
// its HTTP boundary.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the engine exposes.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	VerifyTotal    *prometheus.CounterVec
	VerifyDuration *prometheus.HistogramVec

	AnomaliesTotal   *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	AnchorWritesTotal *prometheus.CounterVec

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// or unregistered if registerer is nil (used in tests).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_requests_in_flight", Help: "Current number of HTTP requests being processed"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total", Help: "Total number of errors"},
			[]string{"service", "code", "operation"},
		),
		VerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "kontext_verify_total", Help: "Total number of verify() calls by outcome"},
			[]string{"compliant", "risk_level"},
		),
		VerifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kontext_verify_duration_seconds",
				Help:    "Duration of the full verify pipeline in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"chain"},
		),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "kontext_anomalies_total", Help: "Total number of anomalies detected"},
			[]string{"rule", "severity"},
		),
		WebhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "kontext_webhook_deliveries_total", Help: "Total number of webhook delivery attempts"},
			[]string{"event", "success"},
		),
		AnchorWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "kontext_anchor_writes_total", Help: "Total number of on-chain anchor writes"},
			[]string{"status"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Service information"},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
			m.VerifyTotal, m.VerifyDuration, m.AnomaliesTotal, m.WebhookDeliveries,
			m.AnchorWritesTotal, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records one error by code/operation.
func (m *Metrics) RecordError(service, code, operation string) {
	m.ErrorsTotal.WithLabelValues(service, code, operation).Inc()
}

// RecordVerify records one verify() outcome.
func (m *Metrics) RecordVerify(compliant bool, riskLevel, chain string, duration time.Duration) {
	m.VerifyTotal.WithLabelValues(boolLabel(compliant), riskLevel).Inc()
	m.VerifyDuration.WithLabelValues(chain).Observe(duration.Seconds())
}

// RecordAnomaly records one detected anomaly.
func (m *Metrics) RecordAnomaly(rule, severity string) {
	m.AnomaliesTotal.WithLabelValues(rule, severity).Inc()
}

// RecordWebhookDelivery records one webhook delivery attempt outcome.
func (m *Metrics) RecordWebhookDelivery(event string, success bool) {
	m.WebhookDeliveries.WithLabelValues(event, boolLabel(success)).Inc()
}

// RecordAnchorWrite records one anchor write attempt outcome.
func (m *Metrics) RecordAnchorWrite(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	m.AnchorWritesTotal.WithLabelValues(status).Inc()
}

// IncrementInFlight increments the in-flight request gauge.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight request gauge.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
