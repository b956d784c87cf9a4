package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the shared instrumentation family for every Stage, labeled by
// stage name so one registration covers the whole pipeline.
type Metrics struct {
	processedTotal *prometheus.CounterVec
	queueFull      *prometheus.CounterVec
}

// NewMetrics registers the pipeline metric family under reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		processedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "pipeline",
			Name:      "events_processed_total",
			Help:      "Events processed by each stage.",
		}, []string{"stage"}),
		queueFull: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "pipeline",
			Name:      "queue_full_total",
			Help:      "Events dropped because a stage's inbound queue was full.",
		}, []string{"stage"}),
	}
}
