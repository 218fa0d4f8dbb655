// Package metrics exposes Prometheus metrics for resolution, renumbering and iteration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "director"

// Metrics holds the director collectors. A nil *Metrics records nothing.
type Metrics struct {
	resolutions       *prometheus.CounterVec
	resolveDuration   *prometheus.HistogramVec
	danglingRefs      *prometheus.CounterVec
	renumbers         *prometheus.CounterVec
	renumberChanges   prometheus.Histogram
	iterations        *prometheus.CounterVec
	iterationDuration *prometheus.HistogramVec
	variableWrites    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Route and iterate resolutions by node type and outcome",
			},
			[]string{"node_type", "outcome"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Duration of a single node resolution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node_type"},
		),
		danglingRefs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dangling_references_total",
				Help:      "References to missing nodes seen while building or resolving",
			},
			[]string{"source"},
		),
		renumbers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renumbers_total",
				Help:      "Preorder renumbering runs by outcome",
			},
			[]string{"outcome"},
		),
		renumberChanges: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "renumber_changes",
				Help:      "Nodes moved per renumbering run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Loop iterations executed by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		iterationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "iterate_duration_seconds",
				Help:      "Duration of a whole iterate node run",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		variableWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variable_writes_total",
				Help:      "Variable store writes by operation",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.resolutions,
		m.resolveDuration,
		m.danglingRefs,
		m.renumbers,
		m.renumberChanges,
		m.iterations,
		m.iterationDuration,
		m.variableWrites,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

func (m *Metrics) RecordResolution(nodeType, outcome string, duration time.Duration, dangling int) {
	if m == nil {
		return
	}

	m.resolutions.WithLabelValues(nodeType, outcome).Inc()
	m.resolveDuration.WithLabelValues(nodeType).Observe(duration.Seconds())

	if dangling > 0 {
		m.danglingRefs.WithLabelValues("resolver").Add(float64(dangling))
	}
}

func (m *Metrics) RecordDangling(source string, count int) {
	if m == nil || count == 0 {
		return
	}

	m.danglingRefs.WithLabelValues(source).Add(float64(count))
}

func (m *Metrics) RecordRenumber(outcome string, changes int) {
	if m == nil {
		return
	}

	m.renumbers.WithLabelValues(outcome).Inc()
	m.renumberChanges.Observe(float64(changes))
}

func (m *Metrics) RecordIteration(source, outcome string) {
	if m == nil {
		return
	}

	m.iterations.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveIterate(source string, duration time.Duration) {
	if m == nil {
		return
	}

	m.iterationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (m *Metrics) RecordVariableWrite(operation string) {
	if m == nil {
		return
	}

	m.variableWrites.WithLabelValues(operation).Inc()
}
