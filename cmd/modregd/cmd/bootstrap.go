package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modreg"
	"github.com/GoCodeAlone/modreg/config"
	"github.com/GoCodeAlone/modreg/internal/features"
	"github.com/GoCodeAlone/modreg/internal/logging"
	"github.com/GoCodeAlone/modreg/metrics"
)

// runtime is everything a command needs after bootstrapping.
type runtime struct {
	path      string
	file      *config.File
	logger    *logging.ZerologAdapter
	registry  *modreg.Registry
	collector *metrics.Collector
	applied   config.ApplyResult
}

// loadFile reads the --config file, or returns defaults when none is given.
func loadFile(cmd *cobra.Command) (string, *config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return "", config.Defaults(), nil
	}
	f, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	return path, f, nil
}

func newLogger(cmd *cobra.Command, f *config.File) (*logging.ZerologAdapter, error) {
	opts := logging.Options{Format: f.Log.Format, Level: f.Log.Level, Out: cmd.ErrOrStderr()}
	if cmd.Flags().Changed("log-format") {
		opts.Format, _ = cmd.Flags().GetString("log-format")
	}
	if cmd.Flags().Changed("log-level") {
		opts.Level, _ = cmd.Flags().GetString("log-level")
	}
	return logging.New(opts)
}

// bootstrap builds the registry, registers the feature modules and applies
// the configuration file to them. It does not initialize or activate.
func bootstrap(ctx context.Context, cmd *cobra.Command, extra ...modreg.Option) (*runtime, error) {
	path, f, err := loadFile(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, f)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(metrics.WithProcessCollectors())
	opts := append(f.RegistryOptions(),
		modreg.WithLogger(logger),
		modreg.WithMetrics(collector),
		modreg.WithContracts(features.Contracts()...),
	)
	reg := modreg.NewRegistry(append(opts, extra...)...)

	for _, m := range features.All(reg) {
		if _, err := reg.Register(ctx, m); err != nil {
			return nil, fmt.Errorf("register %s: %w", m.Manifest().Key, err)
		}
	}

	rt := &runtime{path: path, file: f, logger: logger, registry: reg, collector: collector}
	rt.applied = config.Apply(ctx, reg, f, os.LookupEnv, logger)
	for _, o := range rt.applied.Overrides {
		logger.Info("Environment override", "module", o.Module, "field", o.Field, "env", o.EnvVar)
	}
	for key, err := range rt.applied.Errors {
		logger.Error("Module configuration rejected", "module", key, "error", err)
	}
	return rt, nil
}

// start initializes and activates every configured module. When
// initialization times out the modules that did initialize are still
// activated and the timeout is returned; a dependency cycle stops it early.
func (rt *runtime) start(ctx context.Context) (*modreg.InitializationReport, *modreg.ActivationReport, error) {
	initReport, initErr := rt.registry.InitializeAll(ctx)
	if initReport != nil {
		logReport(rt.logger, "initialize", initReport.BatchReport)
	}
	if initErr != nil && !errors.Is(initErr, modreg.ErrBatchTimeout) {
		return initReport, nil, initErr
	}
	actReport, err := rt.registry.ActivateAll(ctx)
	if actReport != nil {
		logReport(rt.logger, "activate", actReport.BatchReport)
	}
	return initReport, actReport, errors.Join(initErr, err)
}

func logReport(logger modreg.Logger, op string, report modreg.BatchReport) {
	for _, key := range report.With(modreg.OutcomeFailed) {
		logger.Error("Module step failed", "operation", op, "module", key, "error", report.Modules[key].Error)
	}
	for _, key := range report.With(modreg.OutcomeBlocked) {
		logger.Warn("Module blocked", "operation", op, "module", key, "blocked_by", report.Modules[key].BlockedBy)
	}
	for _, key := range report.With(modreg.OutcomePending) {
		logger.Warn("Module step not reached", "operation", op, "module", key)
	}
}
