package otel

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func (t *Telemetry) initTracing(ctx context.Context, res *resource.Resource) error {
	var exp sdktrace.SpanExporter
	var err error

	switch exporter := os.Getenv(tracesExporterEnv); exporter {
	case "otlp":
		cfg := otlpConfigFromEnv()
		if cfg.useGRPC {
			exp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(cfg.endpoint))
		} else {
			exp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.endpoint+"/v1/traces"))
		}
	case "stdout":
		exp, err = stdouttrace.New()
	case "":
		slog.Debug("no traces exporter configured")
		return nil
	default:
		return fmt.Errorf("unsupported traces exporter: %q", exporter)
	}
	if err != nil {
		return fmt.Errorf("trace exporter init: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)

	return nil
}
