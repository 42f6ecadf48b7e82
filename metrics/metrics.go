// Package metrics instruments the sync engine with Prometheus metrics,
// following this module's tracing package: one struct of promauto-registered
// collectors, built once and threaded through the components that record to
// it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine records to.
type Metrics struct {
	ChangeQueueDepth      prometheus.Gauge
	ChangeQueueFlushes    *prometheus.CounterVec
	ChangeQueueBatchSize  prometheus.Histogram
	ChangeQueueDropped    *prometheus.CounterVec
	RetryQueueDepth       prometheus.Gauge
	RetryQueueDropped     *prometheus.CounterVec
	RetryQueueFlushes     *prometheus.CounterVec
	RegistryEntries       prometheus.Gauge
	RegistryConflicts     *prometheus.CounterVec
	ConnectorState        *prometheus.GaugeVec
	ConnectorTransitions  *prometheus.CounterVec
	InterceptorChainBuild *prometheus.CounterVec
	BusEventsPublished    *prometheus.CounterVec
	BusEventsDropped      *prometheus.CounterVec
}

// New builds and registers the engine's metrics under namespace. Pass "" for
// the default namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "graphsync"
	}

	return &Metrics{
		ChangeQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changequeue_depth",
			Help:      "Number of buffered, not-yet-flushed property changes.",
		}),

		ChangeQueueFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changequeue_flushes_total",
			Help:      "Total number of change-queue flush attempts.",
		}, []string{"status"}),

		ChangeQueueBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "changequeue_batch_size",
			Help:      "Size of batches handed to the writer per flush.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		ChangeQueueDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changequeue_dropped_total",
			Help:      "Total number of changes dropped before flush (loop suppression or filter).",
		}, []string{"reason"}),

		RetryQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retryqueue_depth",
			Help:      "Number of changes currently waiting in the write-retry queue.",
		}),

		RetryQueueDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retryqueue_dropped_total",
			Help:      "Total number of changes dropped from the retry queue due to overflow.",
		}, []string{"position"}),

		RetryQueueFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retryqueue_flushes_total",
			Help:      "Total number of retry-queue flush attempts.",
		}, []string{"status"}),

		RegistryEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Number of subjects currently registered against an external id.",
		}),

		RegistryConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_conflicts_total",
			Help:      "Total number of rejected registry mutations, by conflict kind.",
		}, []string{"kind"}),

		ConnectorState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_state",
			Help:      "1 if the connector is currently in this state, 0 otherwise.",
		}, []string{"connector", "state"}),

		ConnectorTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_transitions_total",
			Help:      "Total number of lifecycle state transitions.",
		}, []string{"connector", "from", "to"}),

		InterceptorChainBuild: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interceptor_chain_builds_total",
			Help:      "Total number of interceptor chains built (cache misses).",
		}, []string{"operation"}),

		BusEventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changebus_events_published_total",
			Help:      "Total number of events published on the change bus.",
		}, []string{"kind"}),

		BusEventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changebus_events_dropped_total",
			Help:      "Total number of events dropped because a queued subscriber's buffer was full.",
		}, []string{"kind"}),
	}
}

// RecordConnectorTransition updates the per-state gauge and transition
// counter for one connector's lifecycle change.
func (m *Metrics) RecordConnectorTransition(connectorName, from, to string) {
	m.ConnectorState.WithLabelValues(connectorName, from).Set(0)
	m.ConnectorState.WithLabelValues(connectorName, to).Set(1)
	m.ConnectorTransitions.WithLabelValues(connectorName, from, to).Inc()
}
