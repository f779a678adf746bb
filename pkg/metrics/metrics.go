// Package metrics defines the Prometheus collectors shared by the services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "irrigation"

// Metrics groups every collector. Services only touch the ones they use.
type Metrics struct {
	reg prometheus.Gatherer

	Decisions         *prometheus.CounterVec
	DecisionLevel     prometheus.Histogram
	Overrides         *prometheus.CounterVec
	ForecastFallbacks prometheus.Counter
	DevicesUnready    *prometheus.CounterVec
	Results           *prometheus.CounterVec
	Readings          *prometheus.CounterVec
	EventsIngested    *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWith(prometheus.NewRegistry())
}

func NewWith(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total",
			Help: "Irrigation decisions by label.",
		}, []string{"label"}),
		DecisionLevel: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "decision_level",
			Help:    "Final irrigation level of each decision, 0-100.",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 65, 80, 100},
		}),
		Overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "safety_overrides_total",
			Help: "Decisions changed by a safety override.",
		}, []string{"safety"}),
		ForecastFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "forecast_fallbacks_total",
			Help: "Evaluations that used the default rain chance.",
		}),
		DevicesUnready: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "device_unready_total",
			Help: "Decisions held back because the field device was not serving.",
		}, []string{"field"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "valve_results_total",
			Help: "Valve runs by outcome.",
		}, []string{"status", "reason"}),
		Readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "readings_total",
			Help: "Sensor readings handled, raw or aggregated.",
		}, []string{"kind"}),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_ingested_total",
			Help: "Events written to the time-series store.",
		}, []string{"event_type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.Decisions, m.DecisionLevel, m.Overrides, m.ForecastFallbacks, m.DevicesUnready,
		m.Results, m.Readings, m.EventsIngested, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, took time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
}
