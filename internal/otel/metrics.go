package otel

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/xbp-monitoring/xbp/internal/probe"
)

func (t *Telemetry) initMetrics(ctx context.Context, res *resource.Resource) error {
	var reader sdkmetric.Reader

	switch exporter := os.Getenv(metricsExporterEnv); exporter {
	case "otlp":
		cfg := otlpConfigFromEnv()
		exp, err := newOTLPMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("metric exporter init: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "stdout":
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("metric exporter init: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "prometheus":
		registry := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("metric exporter init: %w", err)
		}
		reader = exp
		t.Registry = registry
	case "":
		slog.Debug("no metrics exporter configured")
		return nil
	default:
		return fmt.Errorf("unsupported metrics exporter: %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	t.shutdownFuncs = append(t.shutdownFuncs, mp.Shutdown)

	return nil
}

func newOTLPMetricExporter(ctx context.Context, cfg otlpConfig) (sdkmetric.Exporter, error) {
	if cfg.useGRPC {
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpointURL(cfg.endpoint))
	}
	return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(cfg.endpoint+"/v1/metrics"))
}

// Metrics is the instrument handle for per-execution telemetry.
type Metrics struct {
	duration       metric.Int64Histogram
	runs           metric.Int64Counter
	errors         metric.Int64Counter
	status         metric.Int64Gauge
	httpStatusCode metric.Int64Gauge
}

// NewMetrics builds the monitoring instruments on the global meter
// provider. Safe to call before Init; the instruments then stay no-ops.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	duration, err := meter.Int64Histogram("duration",
		metric.WithUnit("ms"),
		metric.WithDescription("request duration histogram in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("runs",
		metric.WithDescription("the total count of runs by monitor"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter("errors",
		metric.WithDescription("the total number of errors by monitor"),
	)
	if err != nil {
		return nil, err
	}

	status, err := meter.Int64Gauge("status",
		metric.WithDescription("the current status of each monitor OK = 0 Error = 1"),
	)
	if err != nil {
		return nil, err
	}

	httpStatusCode, err := meter.Int64Gauge("http_status_code",
		metric.WithDescription("the current HTTP status code of the monitor, 0 if the HTTP call fails"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		duration:       duration,
		runs:           runs,
		errors:         errCounter,
		status:         status,
		httpStatusCode: httpStatusCode,
	}, nil
}

// RecordExecution reports one completed probe or story execution.
// A negative statusCode means no protocol status applies and the
// http_status_code gauge is left untouched.
func (m *Metrics) RecordExecution(ctx context.Context, monitor, kind string, status probe.Status, durationMs int64, statusCode int) {
	attrs := metric.WithAttributes(
		attribute.String("name", monitor),
		attribute.String("kind", kind),
	)

	m.duration.Record(ctx, durationMs, attrs)
	m.runs.Add(ctx, 1, attrs)
	if status == probe.StatusError {
		m.errors.Add(ctx, 1, attrs)
	}
	m.status.Record(ctx, status.GaugeValue(), attrs)
	if statusCode >= 0 {
		m.httpStatusCode.Record(ctx, int64(statusCode), attrs)
	}
}
