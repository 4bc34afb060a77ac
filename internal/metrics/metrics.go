// Package metrics provides Prometheus metrics for the chat service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	FramesTotal         *prometheus.CounterVec
	MessagesSent        prometheus.Counter
	ActiveSubscribers   prometheus.Gauge
	WSConnections       prometheus.Gauge
	SubscriberLagged    prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	TopicsEvicted       prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_http_requests_total",
				Help: "HTTP requests by route pattern, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_http_request_duration_seconds",
				Help:    "HTTP request duration by route pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_frames_total",
				Help: "Protocol frames handled by route and outcome.",
			},
			[]string{"route", "outcome"},
		),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted and published.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_subscribers",
			Help: "Open chat subscriptions on this instance.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Open protocol connections on this instance.",
		}),
		SubscriberLagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_subscriber_lagged_total",
			Help: "Messages skipped by subscribers that fell behind the replay buffer.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_errors_total",
				Help: "Errors reported to clients by kind.",
			},
			[]string{"kind"},
		),
		TopicsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_topics_evicted_total",
			Help: "Idle chat topics removed by the janitor.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FramesTotal,
		m.MessagesSent,
		m.ActiveSubscribers,
		m.WSConnections,
		m.SubscriberLagged,
		m.ErrorsTotal,
		m.TopicsEvicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished HTTP request.
func (m *Metrics) ObserveHTTP(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordFrame counts a handled protocol frame.
func (m *Metrics) RecordFrame(route, outcome string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

// SubscriberAdded and SubscriberRemoved track open subscriptions.
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Dec()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordLag adds messages skipped by a slow subscriber.
func (m *Metrics) RecordLag(missed uint64) {
	if m == nil {
		return
	}
	m.SubscriberLagged.Add(float64(missed))
}

// RecordError increments the error counter for an error kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEvicted(n int) {
	if m == nil {
		return
	}
	m.TopicsEvicted.Add(float64(n))
}
