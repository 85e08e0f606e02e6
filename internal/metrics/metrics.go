// Package metrics exposes relay counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch results recorded on whip_commands_total.
const (
	ResultSent         = "sent"
	ResultNoClient     = "no_client"
	ResultSendFailed   = "send_failed"
	ResultUnauthorized = "unauthorized"
	ResultInvalid      = "invalid"
)

type Metrics struct {
	registry *prometheus.Registry

	activeConns prometheus.Gauge
	totalConns  prometheus.Counter
	commands    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whip_connections_active",
			Help: "WebSocket listeners currently addressable by token.",
		}),
		totalConns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whip_connections_total",
			Help: "WebSocket listeners accepted since start.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whip_commands_total",
			Help: "Whip dispatch attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.activeConns,
		m.totalConns,
		m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// The methods below tolerate a nil receiver so metrics can be switched off.

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.totalConns.Inc()
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeConns.Set(float64(n))
}

func (m *Metrics) Command(result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
