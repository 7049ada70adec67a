package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jilio/globalstate"
	gsotel "github.com/jilio/globalstate/otel"
	gsprom "github.com/jilio/globalstate/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// telemetry holds whatever observability a run asked for.
type telemetry struct {
	hooks    []globalstate.Observability
	registry *prom.Registry
	shutdown []func(context.Context) error
}

// multiObservability fans the store hooks out to several implementations.
type multiObservability []globalstate.Observability

func (m multiObservability) OnSetStart(ctx context.Context, store string, kind globalstate.Kind, reducer string) context.Context {
	for _, o := range m {
		ctx = o.OnSetStart(ctx, store, kind, reducer)
	}
	return ctx
}

func (m multiObservability) OnSetComplete(ctx context.Context, info globalstate.SetInfo, err error) {
	for _, o := range m {
		o.OnSetComplete(ctx, info, err)
	}
}

func (m multiObservability) OnDispatchStart(ctx context.Context, store string, id globalstate.DispatcherID, async bool) context.Context {
	for _, o := range m {
		ctx = o.OnDispatchStart(ctx, store, id, async)
	}
	return ctx
}

func (m multiObservability) OnDispatchComplete(ctx context.Context, duration time.Duration, err error) {
	for _, o := range m {
		o.OnDispatchComplete(ctx, duration, err)
	}
}

func setupTelemetry(opts runOptions, out io.Writer) (*telemetry, error) {
	t := &telemetry{}

	if opts.metrics {
		t.registry = prom.NewRegistry()
		t.hooks = append(t.hooks, gsprom.New(gsprom.WithRegistry(t.registry)))
	}

	if !opts.trace && !opts.otelMetrics {
		return t, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName("gstate"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var otelOpts []gsotel.Option

	if opts.trace {
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
		)
		t.shutdown = append(t.shutdown, tp.Shutdown)
		otelOpts = append(otelOpts, gsotel.WithTracerProvider(tp))
	}

	if opts.otelMetrics {
		exporter, err := stdoutmetric.New(
			stdoutmetric.WithWriter(out),
			stdoutmetric.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		)
		t.shutdown = append(t.shutdown, mp.Shutdown)
		otelOpts = append(otelOpts, gsotel.WithMeterProvider(mp))
	}

	obs, err := gsotel.New(otelOpts...)
	if err != nil {
		return nil, fmt.Errorf("otel observability: %w", err)
	}
	t.hooks = append(t.hooks, obs)
	return t, nil
}

// option returns the store option wiring every configured hook, or nil.
func (t *telemetry) option() globalstate.Option {
	switch len(t.hooks) {
	case 0:
		return nil
	case 1:
		return globalstate.WithObservability(t.hooks[0])
	default:
		return globalstate.WithObservability(multiObservability(t.hooks))
	}
}

// writeMetrics prints the prometheus registry in the text exposition format.
func (t *telemetry) writeMetrics(out io.Writer) error {
	if t.registry == nil {
		return nil
	}
	families, err := t.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// close flushes and stops the otel providers.
func (t *telemetry) close(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
