// Command foreman-worker polls the configured queue, fetches tasks by id,
// and dispatches them to the handlers registered for each task type.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"foreman/internal/metrics"
	"foreman/internal/model"
	"foreman/internal/observability"
	"foreman/internal/queue"
	"foreman/internal/run"
	"foreman/internal/shared/config"
	"foreman/internal/shared/logging"
	"foreman/internal/storage"
	"foreman/internal/task"
	"foreman/internal/worker"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "foreman-worker",
		Short: "Foreman task worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(configPath string) error {
	logger := logging.NewComponentLogger("Worker")
	logger.Info("Starting foreman worker...")

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

	tp, err := observability.NewTracerProvider(context.Background(), observability.TracerProviderConfig{
		ServiceName: "foreman-worker",
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

	clock := func() int64 { return time.Now().UnixMilli() }

	// The worker operates on the root pool directly: the broker payload
	// carries only a task id, with no org_id to bind to a tenant-scoped
	// session, and the unrestricted_user role bypasses row-level security
	// entirely, so no session variable needs to be set for these queries.
	runSvc := run.NewService(run.NewRepository(pools.Root), run.Clock(clock))
	taskSvc := task.NewService(task.NewRepository(pools.Root), runSvc, task.Clock(clock))

	hostname, _ := os.Hostname()
	w := worker.New(broker, taskSvc, worker.Config{
		Queue:         cfg.Broker.TasksQueue,
		ConsumerGroup: "foreman-workers",
		ConsumerName:  hostname,
	}).WithMetrics(metricsRegistry)

	w.Handle("noop", noopHandler)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker polling queue %q as %q", cfg.Broker.TasksQueue, hostname)
	if err := w.Run(runCtx); err != nil && err != context.Canceled {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("Worker stopped")
	return nil
}

// noopHandler is the default handler registered for task type "noop": it
// acknowledges the task without performing any work, useful for exercising
// the queue handoff end to end before real handlers are registered.
func noopHandler(_ context.Context, t model.Task) (model.JSON, error) {
	out, err := json.Marshal(map[string]string{"taskId": t.ID, "result": "noop"})
	if err != nil {
		return nil, err
	}
	return out, nil
}
