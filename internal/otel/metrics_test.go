package otel

import (
	"context"
	"testing"

	"github.com/xbp-monitoring/xbp/internal/probe"
)

func TestNewMetrics_WorksWithoutConfiguredProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// instruments on the default (no-op) provider must record safely
	m.RecordExecution(context.Background(), "api_health", "probe", probe.StatusOk, 42, 200)
	m.RecordExecution(context.Background(), "api_health", "probe", probe.StatusError, 1200, 0)
	m.RecordExecution(context.Background(), "checkout", "story", probe.StatusOk, 300, -1)
}

func TestOTLPConfigFromEnv(t *testing.T) {
	tests := []struct {
		name         string
		endpoint     string
		protocol     string
		wantEndpoint string
		wantGRPC     bool
	}{
		{
			name:         "defaults to grpc on its conventional port",
			wantEndpoint: "http://localhost:4317",
			wantGRPC:     true,
		},
		{
			name:         "http protocol defaults to the http port",
			protocol:     "http/protobuf",
			wantEndpoint: "http://localhost:4318",
			wantGRPC:     false,
		},
		{
			name:         "explicit grpc protocol",
			protocol:     "grpc",
			wantEndpoint: "http://localhost:4317",
			wantGRPC:     true,
		},
		{
			name:         "explicit endpoint wins over the default",
			endpoint:     "https://collector.example.com:4317",
			wantEndpoint: "https://collector.example.com:4317",
			wantGRPC:     true,
		},
		{
			name:         "trailing slash trimmed",
			endpoint:     "http://collector:4318/",
			protocol:     "http/protobuf",
			wantEndpoint: "http://collector:4318",
			wantGRPC:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(otlpEndpointEnv, tt.endpoint)
			t.Setenv(otlpProtocolEnv, tt.protocol)

			cfg := otlpConfigFromEnv()
			if cfg.endpoint != tt.wantEndpoint {
				t.Errorf("endpoint = %q, want %q", cfg.endpoint, tt.wantEndpoint)
			}
			if cfg.useGRPC != tt.wantGRPC {
				t.Errorf("useGRPC = %v, want %v", cfg.useGRPC, tt.wantGRPC)
			}
		})
	}
}

func TestInit_UnsupportedExporterFails(t *testing.T) {
	t.Setenv(metricsExporterEnv, "graphite")
	t.Setenv(tracesExporterEnv, "")

	tel, err := Init(context.Background())
	if err == nil {
		_ = tel.Shutdown(context.Background())
		t.Fatal("Init() succeeded with an unsupported metrics exporter, want error")
	}
}

func TestInit_NoExportersConfigured(t *testing.T) {
	t.Setenv(metricsExporterEnv, "")
	t.Setenv(tracesExporterEnv, "")

	tel, err := Init(context.Background())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if tel.Registry != nil {
		t.Error("Registry is set without the prometheus exporter")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestInit_PrometheusExporterExposesRegistry(t *testing.T) {
	t.Setenv(metricsExporterEnv, "prometheus")
	t.Setenv(tracesExporterEnv, "")

	tel, err := Init(context.Background())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	if tel.Registry == nil {
		t.Fatal("Registry is nil with the prometheus exporter configured")
	}
	if _, err := tel.Registry.Gather(); err != nil {
		t.Errorf("Registry.Gather() error = %v", err)
	}
}
