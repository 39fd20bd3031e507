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
)

func (d *Deps) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, coreerrors.Validation("%v", err))
		return
	}
	t := tenantFrom(c)

	ctx, span := observability.StartRunSpan(c.Request.Context(), observability.SpanRunCreate, t.OrgID(), "")
	var out model.Run
	err := d.Pools.WithTx(ctx, t, func(ctx context.Context, tx pgx.Tx) error {
		svc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
		created, err := svc.Create(ctx, run.CreateInput{OrgID: t.OrgID(), InputData: req.InputData, Metadata: req.Metadata})
		out = created
		return err
	})
	observability.MarkSpanResult(span, string(out.Status), err)
	if err != nil {
		respondError(c, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.RunsCreated.WithLabelValues(t.OrgID()).Inc()
	}
	c.JSON(http.StatusCreated, out)
}

func (d *Deps) GetRun(c *gin.Context) {
	t := tenantFrom(c)
	id := c.Param("id")

	var out model.Run
	err := d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		svc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
		found, err := svc.Get(ctx, id)
		out = found
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (d *Deps) UpdateRun(c *gin.Context) {
	var req UpdateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, coreerrors.Validation("%v", err))
		return
	}
	t := tenantFrom(c)
	id := c.Param("id")

	ctx, span := observability.StartRunSpan(c.Request.Context(), observability.SpanRunUpdate, t.OrgID(), id)
	var out model.Run
	err := d.Pools.WithTx(ctx, t, func(ctx context.Context, tx pgx.Tx) error {
		svc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
		updated, err := svc.Update(ctx, id, run.UpdateInput{
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
		d.Metrics.RunsCompleted.WithLabelValues(t.OrgID(), string(out.Status)).Inc()
	}
	c.JSON(http.StatusOK, out)
}

var runSortFields = map[string]bool{"created_at": true, "started_at": true, "completed_at": true}

func (d *Deps) ListRuns(c *gin.Context) {
	t := tenantFrom(c)
	limit, offset, err := runsTasksPagination(c)
	if err != nil {
		respondError(c, err)
		return
	}
	sortBy, sortOrder, err := sortParams(c, runSortFields)
	if err != nil {
		respondError(c, err)
		return
	}

	var statusFilter *model.RunStatus
	if v := c.Query("status"); v != "" {
		s := model.RunStatus(v)
		statusFilter = &s
	}

	var page model.Page[model.Run]
	err = d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		svc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
		p, err := svc.List(ctx, run.ListFilter{
			Status: statusFilter, Limit: limit, Offset: offset, SortBy: sortBy, SortOrder: sortOrder,
		})
		page = p
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}
