// Package metrics exposes engine lifecycle events as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/espalier/pkg/domain"
)

const namespace = "espalier"

// Metrics holds the collectors fed by the engine hooks.
type Metrics struct {
	registry *prometheus.Registry

	nodeVisits   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	breakerOpens *prometheus.CounterVec
	suspends     *prometheus.CounterVec
	resumes      prometheus.Counter
	terminals    *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_visits_total",
			Help:      "Node invocations by node and signal.",
		}, []string{"node_id", "signal"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of node invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"node_id"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "In-place retries after transient failures.",
		}, []string{"node_id", "failure"}),
		breakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Circuit breaker openings.",
		}, []string{"node_id"}),
		suspends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_suspends_total",
			Help:      "Sessions suspended for human input.",
		}, []string{"node_id"}),
		resumes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resumes_total",
			Help:      "Sessions resumed with a human decision.",
		}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_terminal_total",
			Help:      "Sessions reaching a terminal status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.nodeVisits, m.nodeDuration, m.retries, m.breakerOpens,
		m.suspends, m.resumes, m.terminals,
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns the lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			node := string(e.NodeID)
			signal := string(e.Signal)
			if signal == "" {
				signal = "none"
			}
			m.nodeVisits.WithLabelValues(node, signal).Inc()
			m.nodeDuration.WithLabelValues(node).Observe(e.Duration.Seconds())
		},
		OnRetry: func(_ context.Context, e *domain.NodeEvent) {
			m.retries.WithLabelValues(string(e.NodeID), string(e.Failure)).Inc()
		},
		OnBreakerOpen: func(_ context.Context, e *domain.NodeEvent) {
			m.breakerOpens.WithLabelValues(string(e.NodeID)).Inc()
		},
		OnSuspend: func(_ context.Context, e *domain.SessionEvent) {
			m.suspends.WithLabelValues(string(e.NodeID)).Inc()
		},
		OnResume: func(context.Context, *domain.SessionEvent) {
			m.resumes.Inc()
		},
		OnTerminal: func(_ context.Context, e *domain.SessionEvent) {
			m.terminals.WithLabelValues(string(e.Status)).Inc()
		},
	}
}
