// Package dbmetrics exposes Prometheus instrumentation for the Entity
// Store and Relation Engine, following the teacher's client_golang usage.
package dbmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the rest of the module records
// against. Register it once per process.
type Metrics struct {
	StoreOps       *prometheus.CounterVec
	StoreOpLatency *prometheus.HistogramVec
	DeletePlanSize prometheus.Histogram
	SchemaErrors   *prometheus.CounterVec
}

// New builds a Metrics bundle under namespace, ready to Register.
func New(namespace string) *Metrics {
	return &Metrics{
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Entity store operations by tree and operation name.",
		}, []string{"tree", "op"}),
		StoreOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Entity store operation latency by tree and operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tree", "op"}),
		DeletePlanSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relation_delete_plan_records",
			Help:      "Number of records touched by a single Delete's plan phase.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		SchemaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "family_schema_errors_total",
			Help:      "Family descriptor registration failures by tree.",
		}, []string{"tree"}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.StoreOps, m.StoreOpLatency, m.DeletePlanSize, m.SchemaErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveStoreOp records one store operation's outcome and latency.
func (m *Metrics) ObserveStoreOp(tree, op string, seconds float64) {
	m.StoreOps.WithLabelValues(tree, op).Inc()
	m.StoreOpLatency.WithLabelValues(tree, op).Observe(seconds)
}

// ObserveDeletePlan records how many records a Delete's plan phase touched.
func (m *Metrics) ObserveDeletePlan(records int) {
	m.DeletePlanSize.Observe(float64(records))
}

// ObserveSchemaError records a family descriptor registration failure.
func (m *Metrics) ObserveSchemaError(tree string) {
	m.SchemaErrors.WithLabelValues(tree).Inc()
}
