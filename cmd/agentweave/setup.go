package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/hupe1980/agentweave/config"
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/engine"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/observer"
)

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	engine   *engine.Engine
	runtime  *config.Runtime
	shutdown []func(context.Context) error
}

func setup(ctx context.Context, path string) (*app, error) {
	cfg := config.Default()

	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.Logging),
		registry: prometheus.NewRegistry(),
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	observers := []core.Observer{
		observer.NewLogging(a.logger),
		observer.NewMetrics(a.registry),
	}

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, err
		}

		a.shutdown = append(a.shutdown, tp.Shutdown)
		observers = append(observers, observer.NewTracing(func(o *observer.TracingOptions) {
			o.Tracer = tp.Tracer(observer.TracerName)
		}))
	}

	rt, err := config.Build(ctx, cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.runtime = rt

	a.engine = engine.New(
		engine.WithConfig(engine.Config{
			MaxConcurrentInvocations: cfg.Engine.MaxConcurrentInvocations,
			Limits:                   cfg.Engine.Limits,
			MaxHistory:               cfg.Engine.MaxHistory,
		}),
		engine.WithObservers(observers...),
		engine.WithLogger(a.logger),
	)

	if err := a.engine.Register(rt.Agents...); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.logger.Info("agentweave ready", "agents", len(rt.Agents), "models", len(rt.Models), "memory", cfg.Memory.Backend)

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.runtime != nil {
		if err := a.runtime.Close(); err != nil {
			a.logger.Warn("runtime close failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, fn := range a.shutdown {
		if err := fn(shutdownCtx); err != nil {
			a.logger.Warn("shutdown failed", "error", err)
		}
	}
}

// newLogger builds the configured logger. The console format always goes
// through zerolog's pretty writer.
func newLogger(lc config.LoggingConfig) logging.Logger {
	cfg := lc.LoggerConfig()
	if cfg.Format == "console" {
		cfg.Backend = "zerolog"
	}

	return logging.NewLogger(cfg)
}

func newTracerProvider(ctx context.Context, tc config.TracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(tc.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(tc.SamplingRate)),
	}

	if tc.Endpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tc.Endpoint)}
		if tc.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}

		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
