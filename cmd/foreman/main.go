// Command foreman runs the HTTP API server: it accepts Run/Task/RunData
// mutations, persists them under row-level-security isolation, and hands
// tasks off to workers over the configured queue.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"foreman/internal/httpapi"
	"foreman/internal/metrics"
	"foreman/internal/observability"
	"foreman/internal/queue"
	"foreman/internal/shared/config"
	"foreman/internal/shared/logging"
	"foreman/internal/storage"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "foreman",
		Short: "Foreman workflow-orchestration API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting foreman API server...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pools, err := storage.NewPools(ctx, cfg.Database, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open storage pools: %w", err)
	}
	defer pools.Close()

	if err := pools.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	tp, err := observability.NewTracerProvider(context.Background(), observability.TracerProviderConfig{
		ServiceName: "foreman-api",
	})
	if err != nil {
		logger.Warn("tracing disabled: %v", err)
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)

	redisClient := queue.NewRedisClient(cfg.Broker.Addr(), cfg.Broker.Password, cfg.Broker.DB)
	defer redisClient.Close()
	broker := queue.NewRedisBroker(redisClient)

	deps := &httpapi.Deps{
		Pools:        pools,
		Clock:        func() int64 { return time.Now().UnixMilli() },
		Broker:       broker,
		Metrics:      metricsRegistry,
		Queue:        cfg.Broker.TasksQueue,
		BrokerConfig: cfg.Broker,
	}
	apiCfg := httpapi.Config{
		Environment:      cfg.Server.Environment,
		AuthToken:        cfg.Server.AuthToken,
		MaxTaskBodyBytes: cfg.Server.MaxTaskBodyBytes,
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(deps, apiCfg))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return serveUntilSignal(server, logger)
}

func serveUntilSignal(server *http.Server, logger logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}

		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}

		logger.Info("Server stopped")
		return nil
	}
}
