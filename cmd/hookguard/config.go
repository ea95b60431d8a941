// config.go contains configuration loading and engine construction shared by
// the commands.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hookguard/internal/config"
	"github.com/haasonsaas/hookguard/internal/engine"
	"github.com/haasonsaas/hookguard/internal/observability"
)

// loadConfig resolves --config, then HOOKGUARD_CONFIG, then hookguard.yaml.
// Only a missing default file falls back to the built-in configuration.
func loadConfig() (*config.Config, error) {
	path, explicit := config.ResolvePath(configPath, os.Getenv)
	return config.LoadOrDefault(path, explicit)
}

// app is an engine plus the process-level observability around it.
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *observability.Metrics

	shutdownTracer func(context.Context) error
}

// newApp builds the engine with logging to the command's stderr,
// metrics seeded from the textfile and tracing when an endpoint is set.
func newApp(cmd *cobra.Command, cfg *config.Config, opts ...engine.Option) (*app, error) {
	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()
	logger := observability.NewLogger(logCfg)

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics()
		if err := a.metrics.LoadTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics textfile ignored", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	tracer, shutdown := observability.NewTracer(cfg.Tracing)
	a.shutdownTracer = shutdown

	base := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(tracer),
	}
	eng, err := engine.New(cfg, append(base, opts...)...)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// Close flushes metrics and spans and releases the engine's stores.
func (a *app) Close(ctx context.Context) {
	if a.metrics != nil {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Metrics.Textfile), 0o700); err == nil {
			if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
				a.logger.Warn("metrics textfile not written", "error", err)
			}
		}
	}
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Warn("trace export failed", "error", err)
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("engine close failed", "error", err)
	}
}
