// Package metrics provides the process-wide Prometheus registry shared by
// the components that are instrumented: the event bus, the pipeline stages
// and the redefinition coordinator each register their own metric families
// against it. The watch session, reconciler and rollback manager register
// none.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the Prometheus namespace every component's metrics are
// registered under.
const Namespace = "redefinecore"

// Registry wraps a *prometheus.Registry with the process collectors every
// component expects to already be present, and a ready-to-mount HTTP
// handler for the exposition endpoint.
type Registry struct {
	reg *prometheus.Registry
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// DefaultRegistry returns the global singleton Registry, initialized once
// on first access.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New constructs a Registry with Go runtime and process collectors
// pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Registerer exposes the underlying registerer for component constructors
// that take a prometheus.Registerer (e.g. eventbus.NewMetrics, pipeline.NewMetrics).
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Handler returns an http.Handler exposing every registered metric in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
