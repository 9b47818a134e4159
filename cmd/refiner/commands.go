package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"refiner/internal/multitable"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Refine the first JSON file in the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger, err := opts.newLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stopMetrics := startMetrics(ctx, cfg, logger)
			defer stopMetrics()

			sink, err := newSink(cfg)
			if err != nil {
				return err
			}

			logger.Info("refiner: starting",
				zap.String("input_dir", cfg.InputDir),
				zap.String("output_dir", cfg.OutputDir),
				zap.String("storage", cfg.StorageConfig().Kind),
				zap.String("publish", sink.Name()))

			start := time.Now()
			r := multitable.NewDefaultRunner(cfg, sink, zap.NewStdLog(logger))
			out, err := r.Run(ctx)
			if err != nil {
				logger.Error("refiner: run failed", zap.Error(err))
				return err
			}
			logger.Info("refiner: completed",
				zap.String("run_id", out.RunID),
				zap.Int64("rows", out.TotalRows),
				zap.Int("anomalies", len(out.Anomalies)),
				zap.String("refinement_url", out.RefinementURL),
				zap.Duration("duration", time.Since(start).Truncate(time.Millisecond)))
			return nil
		},
	}
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Write schema.json for the configured backend without loading data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			path, err := multitable.NewDefaultRunner(cfg, nil, nil).WriteSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.loadConfig(cmd.ErrOrStderr()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}
