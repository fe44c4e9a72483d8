package telemetry

import (
	"context"

	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/uptrace/uptrace-go/uptrace"
	"go.uber.org/zap"
)

// ConfigureTracing installs the Uptrace exporter as the global OpenTelemetry
// provider. The returned function flushes and shuts it down. Without a DSN
// tracing stays a no-op.
func ConfigureTracing(cfg *config.Telemetry, version string, logger *zap.Logger) func(context.Context) error {
	if cfg.UptraceDSN == "" {
		logger.Debug("Trace export disabled")
		return func(context.Context) error { return nil }
	}

	uptrace.ConfigureOpentelemetry(
		uptrace.WithDSN(cfg.UptraceDSN),
		uptrace.WithServiceName(cfg.ServiceName),
		uptrace.WithServiceVersion(version),
		uptrace.WithDeploymentEnvironment(cfg.Environment),
	)

	logger.Info("Trace export enabled",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment))

	return uptrace.Shutdown
}
