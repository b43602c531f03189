// Package main is the entrypoint for the PeopleHub tenancy service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/peoplehub/internal/api"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/config"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/metrics"
	"github.com/kiranshivaraju/peoplehub/internal/reconcile"
	"github.com/kiranshivaraju/peoplehub/internal/store"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	serviceName     = "peoplehub"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "PeopleHub tenant isolation and subscription lifecycle service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the reconcile scheduler",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Run one reconciliation sweep and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runReconcile(cmd.Context(), cmd)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate()
			},
		},
		newBootstrapCmd(),
	)
	return root
}

// setup loads config and builds the logger every subcommand starts from.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		Service:  serviceName,
	})
	return cfg, log, nil
}

func runServe(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("config loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("store_driver", cfg.Database.Driver),
		zap.String("reconcile_schedule", cfg.Reconcile.Schedule),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	scheduler, err := reconcile.NewScheduler(cfg.Reconcile.Schedule, a.reconciler, 0, log)
	if err != nil {
		return err
	}

	a.dispatcher.Start()
	scheduler.Start()

	deps := a.dependencies()
	deps.HealthHandler = healthHandler(a.store, a.cache)
	deps.MetricsHandler = promhttp.Handler()
	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections...")
	}

	// Stop intake first, then the scheduler, then flush notifications the
	// last requests and sweeps produced.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	scheduler.Stop(shutdownCtx)
	if err := a.dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("notification queue not fully drained", zap.Error(err))
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("server stopped gracefully")
	return nil
}

func runReconcile(parent context.Context, cmd *cobra.Command) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.dispatcher.Start()

	res, sweepErr := a.reconciler.Sweep(ctx, time.Now().UTC(), models.SweepTriggerCLI)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.dispatcher.Close(drainCtx); err != nil {
		log.Warn("notification queue not fully drained", zap.Error(err))
	}

	if sweepErr != nil {
		return fmt.Errorf("sweep: %w", sweepErr)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runMigrate() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.DriverPostgres, cfg.Database.Driver)
	}
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.String("path", cfg.Database.MigrationsPath))
	return nil
}

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(s Pinger, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"version":  Version,
			"services": checks,
		})
	}
}
