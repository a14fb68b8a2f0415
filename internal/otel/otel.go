// Package otel wires OpenTelemetry metrics and tracing for the agent.
//
// Exporters are selected through the conventional environment variables:
//
//	OTEL_METRICS_EXPORTER       otlp | stdout | prometheus (none = disabled)
//	OTEL_TRACES_EXPORTER        otlp | stdout (none = disabled)
//	OTEL_EXPORTER_OTLP_ENDPOINT base endpoint for OTLP exporters
//	OTEL_EXPORTER_OTLP_PROTOCOL grpc (default) | http/protobuf
//
// When the prometheus metrics exporter is selected, Init exposes the
// backing registry so a /metrics server can serve it.
package otel

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	metricsExporterEnv = "OTEL_METRICS_EXPORTER"
	tracesExporterEnv  = "OTEL_TRACES_EXPORTER"
	otlpEndpointEnv    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	otlpProtocolEnv    = "OTEL_EXPORTER_OTLP_PROTOCOL"

	// conventional OTLP collector ports: 4317 for gRPC, 4318 for HTTP
	defaultOTLPGRPCEndpoint = "http://localhost:4317"
	defaultOTLPHTTPEndpoint = "http://localhost:4318"

	shutdownTimeout = 5 * time.Second

	serviceName = "xbp"
	meterName   = "xbp"
)

// Telemetry holds the initialized providers and their shutdown hooks.
type Telemetry struct {
	// Registry is non-nil only when the prometheus metrics exporter is
	// selected; serve it over HTTP to expose the metrics.
	Registry *prometheus.Registry

	shutdownFuncs []func(context.Context) error
}

// Init configures the global tracer and meter providers according to
// the exporter environment variables. With no exporters configured both
// signals stay on the default no-op providers, which keeps instrumented
// code paths cheap.
func Init(ctx context.Context) (*Telemetry, error) {
	t := &Telemetry{}

	res, err := newResource(ctx)
	if err != nil {
		return nil, err
	}

	if err := t.initTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := t.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Shutdown flushes and stops the configured providers, newest first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdownFuncs) - 1; i >= 0; i-- {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := t.shutdownFuncs[i](shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	return errors.Join(errs...)
}

func newResource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
}

// otlpConfig is the OTLP export target derived from environment. The
// endpoint's scheme determines transport security, so no separate
// insecure flag is tracked.
type otlpConfig struct {
	endpoint string
	useGRPC  bool
}

func otlpConfigFromEnv() otlpConfig {
	cfg := otlpConfig{
		endpoint: os.Getenv(otlpEndpointEnv),
		useGRPC:  true,
	}
	if proto := os.Getenv(otlpProtocolEnv); strings.HasPrefix(proto, "http") {
		cfg.useGRPC = false
	}

	if cfg.endpoint == "" {
		if cfg.useGRPC {
			cfg.endpoint = defaultOTLPGRPCEndpoint
		} else {
			cfg.endpoint = defaultOTLPHTTPEndpoint
		}
	}
	cfg.endpoint = strings.TrimSuffix(cfg.endpoint, "/")

	return cfg
}
