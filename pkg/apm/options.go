package apm

import (
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/profiling"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the base logger. Sub-components derive named loggers from it.
func WithLogger(logger logr.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStore replaces the default in-memory sample store.
func WithStore(store metricstore.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithRegisterer registers the collectors of the manager and every
// sub-component with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.reg = reg }
}

// WithTracer replaces the tracer obtained from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithProfileArchiver uploads the raw data of every completed profiling
// session through a.
func WithProfileArchiver(a profiling.Archiver) Option {
	return func(m *Manager) { m.archive = a }
}
