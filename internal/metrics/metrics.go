// Package metrics holds the Prometheus collectors shared by the daemon and
// the web server. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greenhouse"

// Metrics groups the collectors registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	sensorReads       *prometheus.CounterVec
	serialForwards    *prometheus.CounterVec
	conditionalChecks *prometheus.CounterVec
	ruleEdits         *prometheus.CounterVec
	activeControllers prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "reads_total",
			Help:      "Sensor measurement cycles by result",
		}, []string{"input", "result"}),

		serialForwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "serial_forwards_total",
			Help:      "Serial relay attempts by result (sent, skipped, failed)",
		}, []string{"result"}),

		conditionalChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conditional",
			Name:      "checks_total",
			Help:      "Conditional statement evaluations by result",
		}, []string{"result"}),

		ruleEdits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conditional",
			Name:      "edits_total",
			Help:      "Rule editor operations by action and result",
		}, []string{"action", "result"}),

		activeControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conditional",
			Name:      "active_controllers",
			Help:      "Conditional controllers running in the daemon",
		}),
	}

	m.registry.MustRegister(
		m.sensorReads,
		m.serialForwards,
		m.conditionalChecks,
		m.ruleEdits,
		m.activeControllers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SensorRead(input, result string) {
	if m == nil {
		return
	}
	m.sensorReads.WithLabelValues(input, result).Inc()
}

func (m *Metrics) SerialForward(result string) {
	if m == nil {
		return
	}
	m.serialForwards.WithLabelValues(result).Inc()
}

func (m *Metrics) ConditionalCheck(result string) {
	if m == nil {
		return
	}
	m.conditionalChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) RuleEdit(action string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.ruleEdits.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetActiveControllers(n int) {
	if m == nil {
		return
	}
	m.activeControllers.Set(float64(n))
}
