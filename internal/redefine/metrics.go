package redefine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Coordinator's instrumentation, labeled by class name and
// outcome category.
type Metrics struct {
	attemptsTotal  *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	rollbacksTotal *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
}

// NewMetrics registers the coordinator metric family under reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "coordinator",
			Name:      "attempts_total",
			Help:      "Redefinition attempts started, by class.",
		}, []string{"class"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "coordinator",
			Name:      "failures_total",
			Help:      "Redefinition attempts that failed, by category.",
		}, []string{"category"}),
		rollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "coordinator",
			Name:      "rollbacks_total",
			Help:      "Rollbacks attempted after a failed redefinition, by result.",
		}, []string{"result"}),
		attemptSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "redefinecore",
			Subsystem: "coordinator",
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of a redefinition attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"class"}),
	}
}
