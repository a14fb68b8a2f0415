package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xbp-monitoring/xbp/internal/alerts"
	"github.com/xbp-monitoring/xbp/internal/config"
	"github.com/xbp-monitoring/xbp/internal/monitor"
	"github.com/xbp-monitoring/xbp/internal/otel"
	"github.com/xbp-monitoring/xbp/internal/probe"
	"github.com/xbp-monitoring/xbp/internal/server"
	"github.com/xbp-monitoring/xbp/internal/state"
)

const (
	defaultAPIPort        = 3000
	defaultPrometheusPort = 9090

	prometheusPortEnv = "XBP_PROMETHEUS_PORT"
	logLevelEnv       = "XBP_LOG_LEVEL"

	telemetryShutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use. The level is taken from
// XBP_LOG_LEVEL (debug, info, warn, error), defaulting to info.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv(logLevelEnv)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the monitoring agent.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring agent",
	Long: `Start the xbp monitoring agent.

The agent will:
  - Load probe and story definitions from the config file
    (or from the HTTPS endpoint in XBP_REMOTE_CONFIG_URL when set)
  - Start one scheduled task per definition
  - Serve results and the reload endpoint over HTTP
  - Expose Prometheus metrics on a separate port when
    OTEL_METRICS_EXPORTER=prometheus

The agent runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  xbp serve
  xbp serve -f /etc/xbp/xbp.yaml --port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("file", "f", config.DefaultConfigFile, "path to the check definition file")
	serveCmd.Flags().Int("port", defaultAPIPort, "port for the monitoring API")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	// config loading and other background paths log through the default
	slog.SetDefault(logger)

	configFile, _ := cmd.Flags().GetString("file")
	port, _ := cmd.Flags().GetInt("port")

	// cancel on SIGINT/SIGTERM; everything derives from this context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := otel.Init(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	if telemetry.Registry != nil {
		if err := server.StartPrometheus(ctx, telemetry.Registry, prometheusPort(), logger); err != nil {
			return fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	cfg, err := config.Load(ctx, configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info("config loaded",
		"probes", len(cfg.Probes),
		"stories", len(cfg.Stories),
	)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	executor := probe.NewExecutor()
	defer executor.Close()

	scheduler := monitor.NewScheduler(executor, metrics, alerts.NewDispatcher(logger), logger)
	st := state.New(cfg, configFile, scheduler, nil)

	st.StartMonitoring()
	defer st.StopMonitoring()
	logger.Info("monitoring started", "tasks", st.TaskCount())

	apiServer := server.New(st, port, logger)
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown complete")
	return nil
}

func prometheusPort() int {
	if raw := os.Getenv(prometheusPortEnv); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			return port
		}
		slog.Warn("invalid prometheus port, using default", "value", raw, "default", defaultPrometheusPort)
	}
	return defaultPrometheusPort
}
