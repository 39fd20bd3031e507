package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"foreman/internal/model"
	"foreman/internal/observability"
	"foreman/internal/run"
	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/task"
)

func (d *Deps) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, coreerrors.Validation("%v", err))
		return
	}
	t := tenantFrom(c)

	ctx, span := observability.StartTaskSpan(c.Request.Context(), observability.SpanTaskCreate, t.OrgID(), req.RunID, "")
	var out model.Task
	err := d.Pools.WithTx(ctx, t, func(ctx context.Context, tx pgx.Tx) error {
		runSvc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
		taskSvc := task.NewService(task.NewRepository(tx), runSvc, task.Clock(d.Clock))
		created, err := taskSvc.Create(ctx, task.CreateInput{
			OrgID: t.OrgID(), RunID: req.RunID, ParentTaskID: req.ParentTaskID, Type: req.Type,
			InputData: req.InputData, Metadata: req.Metadata, MaxRetries: req.MaxRetries,
		})
		out = created
		return err
	})
	observability.MarkSpanResult(span, string(out.Status), err)
	if err != nil {
		respondError(c, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.TasksCreated.WithLabelValues(t.OrgID(), out.Type).Inc()
	}

	if d.Broker != nil && d.Queue != "" {
		if _, err := d.Broker.Enqueue(c.Request.Context(), d.Queue, out.ID); err != nil {
			respondError(c, coreerrors.Internal(err, "enqueue task"))
			return
		}
	}
	c.JSON(http.StatusCreated, out)
}

func (d *Deps) GetTask(c *gin.Context) {
	t := tenantFrom(c)
	id := c.Param("id")

	var out model.Task
	err := d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		taskSvc := task.NewService(task.NewRepository(tx), run.NewService(run.NewRepository(tx), run.Clock(d.Clock)), task.Clock(d.Clock))
		found, err := taskSvc.Get(ctx, id)
		out = found
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (d *Deps) UpdateTask(c *gin.Context) {
	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, coreerrors.Validation("%v", err))
		return
	}
	t := tenantFrom(c)
	id := c.Param("id")

	ctx, span := observability.StartTaskSpan(c.Request.Context(), observability.SpanTaskUpdate, t.OrgID(), "", id)
	var out model.Task
	err := d.Pools.WithTx(ctx, t, func(ctx context.Context, tx pgx.Tx) error {
		runSvc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
		taskSvc := task.NewService(task.NewRepository(tx), runSvc, task.Clock(d.Clock))
		updated, err := taskSvc.Update(ctx, id, task.UpdateInput{
			Status: req.Status, OutputData: req.OutputData, ErrorData: req.ErrorData, Metadata: req.Metadata,
		})
		out = updated
		return err
	})
	observability.MarkSpanResult(span, string(out.Status), err)
	if err != nil {
		respondError(c, err)
		return
	}
	if d.Metrics != nil && out.Status.Terminal() {
		d.Metrics.TasksCompleted.WithLabelValues(t.OrgID(), out.Type, string(out.Status)).Inc()
		if out.DurationMs != nil {
			d.Metrics.ObserveTaskDuration(out.Type, string(out.Status), *out.DurationMs)
		}
	}
	c.JSON(http.StatusOK, out)
}

var taskSortFields = map[string]bool{"created_at": true, "started_at": true, "completed_at": true}

func (d *Deps) ListTasks(c *gin.Context) {
	t := tenantFrom(c)
	limit, offset, err := runsTasksPagination(c)
	if err != nil {
		respondError(c, err)
		return
	}
	sortBy, sortOrder, err := sortParams(c, taskSortFields)
	if err != nil {
		respondError(c, err)
		return
	}

	f := task.ListFilter{Limit: limit, Offset: offset, SortBy: sortBy, SortOrder: sortOrder}
	if v := c.Query("runId"); v != "" {
		f.RunID = &v
	}
	if v := c.Query("status"); v != "" {
		s := model.TaskStatus(v)
		f.Status = &s
	}
	if v := c.Query("type"); v != "" {
		f.Type = &v
	}

	var page model.Page[model.Task]
	err = d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		taskSvc := task.NewService(task.NewRepository(tx), run.NewService(run.NewRepository(tx), run.Clock(d.Clock)), task.Clock(d.Clock))
		p, err := taskSvc.List(ctx, f)
		page = p
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}
