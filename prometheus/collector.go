// Package prometheus exports store activity as Prometheus metrics.
//
// Metrics collected (default namespace "globalstate"):
//   - globalstate_sets_total: state updates by store, kind and status
//   - globalstate_set_duration_seconds: update duration, notifications included
//   - globalstate_set_errors_total: rejected updates by store and error type
//   - globalstate_set_notified: dispatchers notified per update
//   - globalstate_dispatches_total: dispatcher notifications by store and mode
//   - globalstate_dispatch_duration_seconds: dispatcher execution duration
//   - globalstate_dispatch_panics_total: recovered dispatcher panics
//
// Example:
//
//	reg := prom.NewRegistry()
//	c := prometheus.New(prometheus.WithRegistry(reg))
//	m := globalstate.New(globalstate.WithObservability(c))
package prometheus

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jilio/globalstate"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "globalstate").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prom.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prom.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prom.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prom.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "globalstate",
		Buckets:   prom.DefBuckets,
		Registry:  prom.DefaultRegisterer,
	}
}

// Collector implements globalstate.Observability with Prometheus metrics.
type Collector struct {
	sets             *prom.CounterVec
	setDuration      *prom.HistogramVec
	setErrors        *prom.CounterVec
	setNotified      *prom.HistogramVec
	dispatches       *prom.CounterVec
	dispatchDuration *prom.HistogramVec
	dispatchPanics   *prom.CounterVec
}

// New creates a Collector and registers its metrics. It panics if the
// metrics are already registered with the same registry.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		sets: factory.NewCounterVec(prom.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sets_total",
			Help:        "Total number of state updates",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "kind", "status"}),

		setDuration: factory.NewHistogramVec(prom.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "set_duration_seconds",
			Help:        "State update duration in seconds, notifications included",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"store", "kind"}),

		setErrors: factory.NewCounterVec(prom.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "set_errors_total",
			Help:        "Total number of rejected state updates",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "error_type"}),

		setNotified: factory.NewHistogramVec(prom.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "set_notified",
			Help:        "Dispatchers notified per state update",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}, []string{"store"}),

		dispatches: factory.NewCounterVec(prom.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatches_total",
			Help:        "Total number of dispatcher notifications",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "async"}),

		dispatchDuration: factory.NewHistogramVec(prom.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Dispatcher execution duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"store", "async"}),

		dispatchPanics: factory.NewCounterVec(prom.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_panics_total",
			Help:        "Total number of recovered dispatcher panics",
			ConstLabels: config.ConstLabels,
		}, []string{"store", "async"}),
	}
}

type dispatchLabelsKey struct{}

type dispatchLabels struct {
	store string
	async string
}

// OnSetStart is a no-op; everything is recorded on completion.
func (c *Collector) OnSetStart(ctx context.Context, _ string, _ globalstate.Kind, _ string) context.Context {
	return ctx
}

// OnSetComplete records the outcome of a state update.
func (c *Collector) OnSetComplete(_ context.Context, info globalstate.SetInfo, err error) {
	kind := info.Kind.String()
	c.setDuration.WithLabelValues(info.Store, kind).Observe(info.Duration.Seconds())

	status := "success"
	if err != nil {
		status = "error"
		c.setErrors.WithLabelValues(info.Store, errorType(err)).Inc()
	} else {
		c.setNotified.WithLabelValues(info.Store).Observe(float64(info.Notified))
	}
	c.sets.WithLabelValues(info.Store, kind, status).Inc()
}

// OnDispatchStart counts a dispatcher notification.
func (c *Collector) OnDispatchStart(ctx context.Context, store string, _ globalstate.DispatcherID, async bool) context.Context {
	labels := dispatchLabels{store: store, async: strconv.FormatBool(async)}
	c.dispatches.WithLabelValues(labels.store, labels.async).Inc()
	return context.WithValue(ctx, dispatchLabelsKey{}, labels)
}

// OnDispatchComplete records the dispatcher duration and any panic.
func (c *Collector) OnDispatchComplete(ctx context.Context, duration time.Duration, err error) {
	labels, _ := ctx.Value(dispatchLabelsKey{}).(dispatchLabels)
	c.dispatchDuration.WithLabelValues(labels.store, labels.async).Observe(duration.Seconds())
	if err != nil {
		c.dispatchPanics.WithLabelValues(labels.store, labels.async).Inc()
	}
}

// errorType maps an update error to a low-cardinality label.
func errorType(err error) string {
	switch {
	case errors.Is(err, globalstate.ErrUnknownReducer):
		return "unknown_reducer"
	case errors.Is(err, globalstate.ErrInvalidUpdate):
		return "invalid_update"
	case errors.Is(err, globalstate.ErrReducerPanic):
		return "reducer_panic"
	case errors.Is(err, globalstate.ErrReentrantSet):
		return "reentrant_set"
	default:
		return "reducer_error"
	}
}

var _ globalstate.Observability = (*Collector)(nil)
