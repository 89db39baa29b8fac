// Package telemetry exposes Prometheus metrics for the HTTP API,
// authentication outcomes and the state of the sales pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tally"

// Metrics holds every collector the server records to. Each Metrics owns its
// registry, so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthFailures    *prometheus.CounterVec
	KeyTouchErrors  prometheus.Counter

	StageDeals    *prometheus.GaugeVec
	StageValue    *prometheus.GaugeVec
	ExcludedDeals prometheus.Gauge
}

// New creates and registers the collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected credentials by reason (missing, invalid, expired, unavailable).",
			},
			[]string{"reason"},
		),
		KeyTouchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_key_touch_errors_total",
			Help:      "Failed background writes of API key last-used timestamps.",
		}),
		StageDeals: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_deals",
				Help:      "Deals currently in each pipeline stage.",
			},
			[]string{"stage"},
		),
		StageValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_value",
				Help:      "Summed deal value in each pipeline stage.",
			},
			[]string{"stage"},
		),
		ExcludedDeals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_excluded_deals",
			Help:      "Deals whose stage is outside the known set at the last refresh.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.AuthFailures,
		m.KeyTouchErrors,
		m.StageDeals,
		m.StageValue,
		m.ExcludedDeals,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
