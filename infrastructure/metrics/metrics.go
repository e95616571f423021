// Package metrics provides Prometheus metrics collection for the SOVD
// gateway's HTTP surface and its UDS/flash/subscription domain operations.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/sovd-gateway/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors exposed by a gateway instance.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// UDS request metrics, labeled by service ID (e.g. "0x22") so a
	// dashboard can separate read-by-id load from routine-control load.
	UDSRequestsTotal   *prometheus.CounterVec
	UDSRequestDuration *prometheus.HistogramVec
	UDSNegativeTotal   *prometheus.CounterVec

	// Flash transfer metrics.
	FlashBytesTransferred *prometheus.CounterVec
	FlashTransfersActive  prometheus.Gauge

	// Subscription manager metrics.
	SubscriptionsActive  prometheus.Gauge
	SubscriptionEventsTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry,
// used by tests that need isolated collectors.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sovd_http_requests_total",
				Help: "Total number of HTTP requests to the SOVD gateway",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sovd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sovd_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sovd_errors_total",
				Help: "Total number of SOVD errors by category",
			},
			[]string{"service", "category"},
		),
		UDSRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sovd_uds_requests_total",
				Help: "Total number of UDS requests issued to an ECU",
			},
			[]string{"entity", "sid", "status"},
		),
		UDSRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sovd_uds_request_duration_seconds",
				Help:    "UDS request/response round-trip duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"entity", "sid"},
		),
		UDSNegativeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sovd_uds_negative_responses_total",
				Help: "Total number of negative UDS responses by NRC",
			},
			[]string{"entity", "sid", "nrc"},
		),
		FlashBytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sovd_flash_bytes_transferred_total",
				Help: "Total bytes transferred by flash transfers",
			},
			[]string{"entity"},
		),
		FlashTransfersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sovd_flash_transfers_active",
				Help: "Current number of in-progress flash transfers",
			},
		),
		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sovd_subscriptions_active",
				Help: "Current number of active periodic subscriptions",
			},
		),
		SubscriptionEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sovd_subscription_events_total",
				Help: "Total number of events emitted by the subscription manager",
			},
			[]string{"entity"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sovd_service_uptime_seconds",
				Help: "Gateway uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sovd_service_info",
				Help: "Gateway build/service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.UDSRequestsTotal,
			m.UDSRequestDuration,
			m.UDSNegativeTotal,
			m.FlashBytesTransferred,
			m.FlashTransfersActive,
			m.SubscriptionsActive,
			m.SubscriptionEventsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", string(runtime.Env())).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records a SOVD error by wire category.
func (m *Metrics) RecordError(service, category string) {
	m.ErrorsTotal.WithLabelValues(service, category).Inc()
}

// RecordUDSRequest records a UDS request/response cycle. status is "positive"
// or "negative".
func (m *Metrics) RecordUDSRequest(entity string, sid byte, status string, duration time.Duration) {
	sidLabel := sidHex(sid)
	m.UDSRequestsTotal.WithLabelValues(entity, sidLabel, status).Inc()
	m.UDSRequestDuration.WithLabelValues(entity, sidLabel).Observe(duration.Seconds())
}

// RecordUDSNegative records a negative UDS response by NRC.
func (m *Metrics) RecordUDSNegative(entity string, sid, nrc byte) {
	m.UDSNegativeTotal.WithLabelValues(entity, sidHex(sid), sidHex(nrc)).Inc()
}

// RecordFlashBytes adds n bytes to the running flash transfer total for entity.
func (m *Metrics) RecordFlashBytes(entity string, n int) {
	m.FlashBytesTransferred.WithLabelValues(entity).Add(float64(n))
}

// SetFlashTransfersActive sets the current count of in-progress transfers.
func (m *Metrics) SetFlashTransfersActive(count int) {
	m.FlashTransfersActive.Set(float64(count))
}

// SetSubscriptionsActive sets the current count of active subscriptions.
func (m *Metrics) SetSubscriptionsActive(count int) {
	m.SubscriptionsActive.Set(float64(count))
}

// RecordSubscriptionEvent records one emitted subscription event.
func (m *Metrics) RecordSubscriptionEvent(entity string) {
	m.SubscriptionEventsTotal.WithLabelValues(entity).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func sidHex(b byte) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
