package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-netinfer/internal/api"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/metrics"
	"github.com/irfndi/celebrum-netinfer/internal/services"
	"github.com/irfndi/celebrum-netinfer/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveNoStorage bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoStorage, "no-storage", false, "serve without Postgres and Redis; only POST /api/v1/analysis works")
}

func buildRouter(ctx context.Context) (*gin.Engine, *services.TimeoutManager, func(), error) {
	cfg := current.cfg
	logger := current.logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	optimizer := services.NewResourceOptimizer(ctx, services.ResourceOptimizerConfig{}, logger)
	timeouts := services.NewTimeoutManager(&services.TimeoutConfig{
		Analysis:       cfg.Analysis.Timeout,
		DatabaseQuery:  10 * time.Second,
		RedisOperation: 2 * time.Second,
		HealthCheck:    3 * time.Second,
	}, logger)
	svc, err := services.NewNetworkAnalysisService(cfg.Analysis, logger, metrics.NewPipelineMetrics(reg), optimizer, timeouts)
	if err != nil {
		return nil, nil, nil, err
	}

	deps := api.Dependencies{Runner: svc, Gatherer: reg, Logger: logger}
	cleanup := func() {}
	if !serveNoStorage {
		st, err := openStorage(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("price database unavailable: %w", err)
		}
		deps.Source = st.source()
		deps.DB = st.db
		if st.redis != nil {
			deps.Redis = st.redis
		}
		cleanup = st.close
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(deps), timeouts, cleanup, nil
}

func runServe(ctx context.Context) error {
	router, timeouts, cleanup, err := buildRouter(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	port := current.cfg.Server.Port
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogStartup(current.logger, telemetry.ServiceName, telemetry.ServiceVersion, port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.LogShutdown(current.logger, telemetry.ServiceName, "signal")
	timeouts.CancelAllOperations()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
