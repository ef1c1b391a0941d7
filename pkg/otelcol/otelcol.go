package otelcol

import (
	"context"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		NewTracerProvider,
		NewMeterProvider,
	),
)

func serviceResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func ProvideMetric(opts ...metric.Option) *metric.MeterProvider {
	return metric.NewMeterProvider(opts...)
}

// NewTracerProvider exports spans over OTLP when OTEL.ADDR is set and falls
// back to the global no-op provider otherwise.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config) (oteltrace.TracerProvider, error) {
	if cfg.Otel.Addr == "" {
		zap.L().Info("[Otel] exporter not configured, tracing disabled")
		return otel.GetTracerProvider(), nil
	}

	var exporter trace.SpanExporter
	var err error
	switch cfg.Otel.Protocol {
	case "http":
		exporter, err = exporters.ProvideHttp(cfg)
	default:
		exporter, err = exporters.ProvideGrpc(cfg)
	}
	if err != nil {
		return nil, err
	}

	tp := ProvideTrace(exporter, trace.WithResource(serviceResource(cfg)))
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	zap.L().Info("[Otel] tracing enabled", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))
	return tp, nil
}

func NewMeterProvider(lc fx.Lifecycle, cfg *config.Config) otelmetric.MeterProvider {
	mp := ProvideMetric(metric.WithResource(serviceResource(cfg)))
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})

	return mp
}
