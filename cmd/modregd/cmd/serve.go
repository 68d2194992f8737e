package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modreg"
	"github.com/GoCodeAlone/modreg/config"
	"github.com/GoCodeAlone/modreg/health"
	"github.com/GoCodeAlone/modreg/httpapi"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registry and serve its state over HTTP",
		Long: `Register the feature modules, apply configuration, then initialize and
activate them in dependency order. Health is polled on the configured
schedule and the configuration file is watched for changes. On SIGINT or
SIGTERM every module is deactivated in reverse dependency order.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "HTTP listen address (overrides the config file)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	if _, _, err := rt.start(ctx); err != nil {
		if errors.Is(err, modreg.ErrDependencyCycle) {
			return err
		}
		rt.logger.Error("Startup incomplete", "error", err)
	}

	poller, err := health.NewPoller(rt.registry,
		health.WithSchedule(rt.file.Registry.HealthPollSchedule),
		health.WithLogger(rt.logger),
		health.WithCallback(func(prev, cur modreg.SystemHealth) {
			rt.logger.Warn("System health changed", "from", prev.Status, "to", cur.Status)
		}),
	)
	if err != nil {
		return err
	}
	if err := poller.Start(ctx); err != nil {
		return err
	}

	if rt.path != "" {
		w := config.NewWatcher(rt.path, rt.reload(ctx), config.WithWatchLogger(rt.logger))
		go func() {
			if err := w.Run(ctx); err != nil {
				rt.logger.Error("Configuration watch stopped", "error", err)
			}
		}()
	}

	addr := rt.file.HTTP.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(rt.registry, httpapi.Options{
			Gatherer: rt.collector.Gatherer(),
			Logger:   rt.logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		rt.logger.Error("HTTP server failed", "error", serveErr)
	}

	rt.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("HTTP shutdown", "error", err)
	}
	if err := poller.Stop(shutdownCtx); err != nil {
		rt.logger.Warn("Health poller stop", "error", err)
	}
	if err := rt.registry.DeactivateAll(shutdownCtx); err != nil {
		rt.logger.Error("Deactivation incomplete", "error", err)
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// reload re-applies a changed configuration file. Modules that accept it are
// brought back up; Active modules keep running on their current config.
func (rt *runtime) reload(ctx context.Context) config.ReloadCallback {
	return func(f *config.File, err error) {
		if err != nil {
			return
		}
		res := config.Apply(ctx, rt.registry, f, os.LookupEnv, rt.logger)
		for key, err := range res.Errors {
			rt.logger.Error("Module configuration rejected", "module", key, "error", err)
		}
		if len(res.Configured) == 0 {
			return
		}
		if _, _, err := rt.start(ctx); err != nil {
			rt.logger.Error("Restart after reload incomplete", "error", err)
		}
	}
}
