package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for one Bus instance. Callers
// that want to share a metric family across multiple buses (unusual) can
// construct one Metrics and pass it to multiple New calls. NewMetrics
// registers with the registerer passed to it; a second call with the same
// registerer panics on the duplicate registration.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	subscribersActive  prometheus.Gauge
	dispatchErrors     *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	dropped            prometheus.Counter
}

// NewMetrics registers the eventbus metric family under the given
// Prometheus registerer. Pass prometheus.DefaultRegisterer in production;
// tests should pass a fresh prometheus.NewRegistry() to avoid collisions
// across parallel subtests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "eventbus",
			Name:      "events_total",
			Help:      "Events published to the bus, by event type.",
		}, []string{"event_type"}),
		subscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "redefinecore",
			Subsystem: "eventbus",
			Name:      "subscribers_active",
			Help:      "Current number of active subscribers.",
		}),
		dispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "eventbus",
			Name:      "dispatch_errors_total",
			Help:      "Dispatch attempts that failed, by reason.",
		}, []string{"reason"}),
		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "redefinecore",
			Subsystem: "eventbus",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan an event out to all subscribers.",
			Buckets:   prometheus.DefBuckets,
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "redefinecore",
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Events dropped because the dispatch channel was full.",
		}),
	}
}
