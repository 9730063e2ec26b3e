package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/api"
	"github.com/JakeFAU/discipline-sync/internal/app"
	"github.com/JakeFAU/discipline-sync/internal/scheduler"
	"github.com/JakeFAU/discipline-sync/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync scheduler",
		Long: `Starts the catalog API on server.port. When sync.schedule is set, runs
are also triggered from that cron expression. SIGINT or SIGTERM drains
the server and lets an active run stop at its next checkpoint.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	logger := rt.logger

	tp, err := telemetry.InitTracerProvider(ctx, "discipline-sync")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	var sched *scheduler.Scheduler
	if spec := rt.cfg.Sync.Schedule; spec != "" {
		sched, err = scheduler.New(spec, a.Orchestrator, time.Local, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if rt.cfg.Sync.RunOnStart {
		res, err := a.Orchestrator.Trigger(ctx)
		if err != nil {
			logger.Warn("startup synchronization not started", zap.Error(err))
		} else {
			logger.Info("startup synchronization triggered", zap.String("status", string(res.Status)), zap.String("run_id", res.RunID))
		}
	}

	server := api.NewServer(a.Orchestrator, a.Store, a.Runs, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
