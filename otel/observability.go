package otel

import (
	"context"
	"strconv"
	"time"

	"github.com/jilio/globalstate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/jilio/globalstate"
)

// Observability implements globalstate.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	setCounter       metric.Int64Counter
	setDuration      metric.Float64Histogram
	setErrors        metric.Int64Counter
	setNotified      metric.Int64Histogram
	dispatchCounter  metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	dispatchErrors   metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(obs)
	}

	var err error

	obs.setCounter, err = obs.meter.Int64Counter(
		"globalstate.set.count",
		metric.WithDescription("Number of state updates"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	obs.setDuration, err = obs.meter.Float64Histogram(
		"globalstate.set.duration",
		metric.WithDescription("State update duration, notifications included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.setErrors, err = obs.meter.Int64Counter(
		"globalstate.set.errors",
		metric.WithDescription("Number of rejected state updates"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.setNotified, err = obs.meter.Int64Histogram(
		"globalstate.set.notified",
		metric.WithDescription("Dispatchers notified per state update"),
		metric.WithUnit("{dispatcher}"),
	)
	if err != nil {
		return nil, err
	}

	obs.dispatchCounter, err = obs.meter.Int64Counter(
		"globalstate.dispatch.count",
		metric.WithDescription("Number of dispatcher notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	obs.dispatchDuration, err = obs.meter.Float64Histogram(
		"globalstate.dispatch.duration",
		metric.WithDescription("Dispatcher execution duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.dispatchErrors, err = obs.meter.Int64Counter(
		"globalstate.dispatch.errors",
		metric.WithDescription("Number of dispatcher panics"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

// dispatchAttrsKey carries the dispatch attributes from start to complete
type dispatchAttrsKey struct{}

func setAttrs(store string, kind globalstate.Kind, reducer string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("store.name", store),
		attribute.String("update.kind", kind.String()),
	}
	if reducer != "" {
		attrs = append(attrs, attribute.String("reducer.name", reducer))
	}
	return attrs
}

// OnSetStart starts a span for the update
func (o *Observability) OnSetStart(ctx context.Context, store string, kind globalstate.Kind, reducer string) context.Context {
	attrs := setAttrs(store, kind, reducer)
	ctx, _ = o.tracer.Start(ctx, "globalstate.set: "+kind.String(),
		trace.WithAttributes(attrs...),
	)

	o.setCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx
}

// OnSetComplete records the outcome of the update and ends its span
func (o *Observability) OnSetComplete(ctx context.Context, info globalstate.SetInfo, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := setAttrs(info.Store, info.Kind, info.Reducer)

	o.setDuration.Record(ctx, float64(info.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.setErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetAttributes(
			attribute.StringSlice("state.keys", info.Keys),
			attribute.Int("dispatchers.notified", info.Notified),
		)
		o.setNotified.Record(ctx, int64(info.Notified), metric.WithAttributes(attrs...))
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnDispatchStart starts a span for one dispatcher notification
func (o *Observability) OnDispatchStart(ctx context.Context, store string, id globalstate.DispatcherID, async bool) context.Context {
	attrs := []attribute.KeyValue{
		attribute.String("store.name", store),
		attribute.Bool("async", async),
	}

	spanName := "globalstate.dispatch"
	if async {
		spanName = "globalstate.dispatch.async"
	}
	ctx, _ = o.tracer.Start(ctx, spanName,
		trace.WithAttributes(append(attrs, attribute.String("dispatcher.id", strconv.FormatUint(uint64(id), 10)))...),
	)

	o.dispatchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	return context.WithValue(ctx, dispatchAttrsKey{}, attrs)
}

// OnDispatchComplete records the dispatcher duration and ends its span
func (o *Observability) OnDispatchComplete(ctx context.Context, duration time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs, _ := ctx.Value(dispatchAttrsKey{}).([]attribute.KeyValue)

	o.dispatchDuration.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.dispatchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// Ensure Observability implements globalstate.Observability
var _ globalstate.Observability = (*Observability)(nil)
