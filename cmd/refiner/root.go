package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"refiner/internal/config"
	"refiner/internal/metrics"
	"refiner/internal/metrics/datadog"
	"refiner/internal/publish"
	"refiner/internal/storage"
)

type rootOptions struct {
	configPath     string
	verbose        bool
	metricsBackend string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "refiner",
		Short:         "Refine instruction datasets into a relational store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config path (environment variables override it)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logs")
	cmd.PersistentFlags().StringVar(&opts.metricsBackend, "metrics-backend", "", "metrics backend (datadog, none); overrides METRICS_BACKEND")

	cmd.AddCommand(newRunCmd(opts), newSchemaCmd(opts), newValidateCmd(opts))
	return cmd
}

// loadConfig reads the config and reports every validation issue to w.
func (o *rootOptions) loadConfig(w io.Writer) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.metricsBackend != "" {
		cfg.Metrics.Backend = o.metricsBackend
	}
	issues := config.Validate(cfg, storage.Kinds())
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
	if config.HasErrors(issues) {
		return cfg, fmt.Errorf("configuration is invalid")
	}
	return cfg, nil
}

func (o *rootOptions) newLogger() (*zap.Logger, error) {
	if o.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// startMetrics installs the configured metrics backend. The returned func flushes
// and stops it.
func startMetrics(ctx context.Context, cfg config.Config, logger *zap.Logger) func() {
	switch cfg.Metrics.Backend {
	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logger.Warn("metrics: datadog init failed; using nop", zap.Error(err))
			return func() {}
		}
		logger.Info("metrics: backend enabled", zap.String("backend", "datadog"), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}
	case "", "none":
		logger.Debug("metrics: disabled")
	default:
		logger.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", cfg.Metrics.Backend))
	}
	return func() {}
}

// newSink returns the Pinata sink when credentials are configured.
func newSink(cfg config.Config) (publish.Sink, error) {
	if !cfg.Publish.Enabled() {
		return publish.Nop{}, nil
	}
	return publish.NewPinata(publish.PinataOptions{
		APIKey:     cfg.Publish.PinataAPIKey,
		APISecret:  cfg.Publish.PinataAPISecret,
		Endpoint:   cfg.Publish.Endpoint,
		GatewayURL: cfg.Publish.GatewayURL,
	})
}
