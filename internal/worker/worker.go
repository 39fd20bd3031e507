// Package worker implements the worker-side state machine: fetch a task by
// id, mark it running, dispatch a type-specific handler, and resolve the
// outcome to completed, retrying, or failed based on the task's own
// retry_count/max_retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foreman/internal/metrics"
	"foreman/internal/model"
	"foreman/internal/observability"
	"foreman/internal/queue"
	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/shared/logging"
	"foreman/internal/task"
)

// Handler executes one task and returns its output payload, or an error if
// the task failed. Handlers are registered per task Type.
type Handler func(ctx context.Context, t model.Task) (model.JSON, error)

// Config controls polling behavior.
type Config struct {
	Queue         string
	ConsumerGroup string
	ConsumerName  string
	BlockFor      time.Duration
	BatchSize     int64
}

func (c Config) withDefaults() Config {
	if c.BlockFor <= 0 {
		c.BlockFor = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Worker pulls jobs off a Broker and dispatches them to registered handlers.
type Worker struct {
	broker   queue.Broker
	tasks    *task.Service
	cfg      Config
	handlers map[string]Handler
	log      logging.Logger
	metrics  *metrics.Registry
}

// New builds a Worker. Register handlers with Handle before calling Run.
func New(broker queue.Broker, tasks *task.Service, cfg Config) *Worker {
	return &Worker{
		broker:   broker,
		tasks:    tasks,
		cfg:      cfg.withDefaults(),
		handlers: map[string]Handler{},
		log:      logging.NewComponentLogger("Worker"),
	}
}

// Handle registers fn for every task whose Type equals taskType.
func (w *Worker) Handle(taskType string, fn Handler) {
	w.handlers[taskType] = fn
}

// WithMetrics attaches a metrics registry, used to record dispatch errors.
// Optional: a Worker with no registry simply skips recording.
func (w *Worker) WithMetrics(m *metrics.Registry) *Worker {
	w.metrics = m
	return w
}

// Run polls until ctx is cancelled, processing jobs as they arrive.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ctx, span := observability.StartTaskSpan(ctx, observability.SpanWorkerDequeue, "", "", "")
		jobs, err := w.broker.Consume(ctx, w.cfg.Queue, w.cfg.ConsumerGroup, w.cfg.ConsumerName, w.cfg.BlockFor, w.cfg.BatchSize)
		observability.MarkSpanResult(span, fmt.Sprintf("%d jobs", len(jobs)), err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("consume failed: %v", err)
			continue
		}
		for _, job := range jobs {
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	defer func() {
		if err := w.broker.Ack(ctx, w.cfg.Queue, w.cfg.ConsumerGroup, job.ID); err != nil {
			w.log.Error("ack failed for job %s: %v", job.ID, err)
		}
	}()

	t, err := w.tasks.Get(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			// The task row is gone (e.g. its run was deleted upstream of
			// this worker's visibility). There is nothing left to retry:
			// the broker delivery itself is the permanent failure.
			w.log.Warn("task %s not found, dropping delivery %s", job.TaskID, job.ID)
			return
		}
		w.log.Error("lookup task %s failed: %v", job.TaskID, err)
		return
	}
	if t.Status.Terminal() {
		// Already resolved by a previous delivery of the same task.
		return
	}

	running := model.TaskRunning
	t, err = w.tasks.Update(ctx, t.ID, task.UpdateInput{Status: &running})
	if err != nil {
		w.log.Error("mark task %s running failed: %v", t.ID, err)
		return
	}

	handler, ok := w.handlers[t.Type]
	if !ok {
		w.recordDispatchErr(t.Type)
		w.fail(ctx, t, fmt.Errorf("no handler registered for task type %q", t.Type))
		return
	}

	dispatchCtx, span := observability.StartTaskSpan(ctx, observability.SpanWorkerDispatch, t.OrgID, t.RunID, t.ID)
	output, err := handler(dispatchCtx, t)
	observability.MarkSpanResult(span, t.Type, err)
	if err != nil {
		w.recordDispatchErr(t.Type)
		w.fail(ctx, t, err)
		return
	}

	completed := model.TaskCompleted
	if _, err := w.tasks.Update(ctx, t.ID, task.UpdateInput{Status: &completed, OutputData: output}); err != nil {
		w.log.Error("mark task %s completed failed: %v", t.ID, err)
	}
}

func (w *Worker) recordDispatchErr(taskType string) {
	if w.metrics != nil {
		w.metrics.WorkerDispatchErr.WithLabelValues(taskType).Inc()
	}
}

// fail resolves a handler error to retrying (and re-enqueues) or failed,
// depending on whether the task has retry budget left. MaxRetries caps the
// total number of attempts, not the number of retries beyond the first: the
// attempt that just failed is RetryCount+1, so it only gets another try if
// that count is still under MaxRetries.
func (w *Worker) fail(ctx context.Context, t model.Task, cause error) {
	errData := model.JSON(fmt.Sprintf(`{"message":%q}`, cause.Error()))

	if t.RetryCount+1 < t.MaxRetries {
		retrying := model.TaskRetrying
		t, err := w.tasks.Update(ctx, t.ID, task.UpdateInput{Status: &retrying, ErrorData: errData})
		if err != nil {
			w.log.Error("mark task %s retrying failed: %v", t.ID, err)
			return
		}
		queued := model.TaskQueued
		if _, err := w.tasks.Update(ctx, t.ID, task.UpdateInput{Status: &queued}); err != nil {
			w.log.Error("mark task %s queued for retry failed: %v", t.ID, err)
			return
		}
		if _, err := w.broker.Enqueue(ctx, w.cfg.Queue, t.ID); err != nil {
			w.log.Error("re-enqueue task %s failed: %v", t.ID, err)
		}
		return
	}

	failed := model.TaskFailed
	if _, err := w.tasks.Update(ctx, t.ID, task.UpdateInput{Status: &failed, ErrorData: errData}); err != nil {
		w.log.Error("mark task %s failed failed: %v", t.ID, err)
	}
}
