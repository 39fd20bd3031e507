package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"foreman/internal/model"
	"foreman/internal/run"
	"foreman/internal/rundata"
	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/task"
)

func (d *Deps) newRunDataService(tx pgx.Tx) *rundata.Service {
	runSvc := run.NewService(run.NewRepository(tx), run.Clock(d.Clock))
	taskSvc := task.NewService(task.NewRepository(tx), runSvc, task.Clock(d.Clock))
	return rundata.NewService(rundata.NewRepository(tx), taskSvc, rundata.Clock(d.Clock))
}

func (d *Deps) CreateRunData(c *gin.Context) {
	var req CreateRunDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, coreerrors.Validation("%v", err))
		return
	}
	t := tenantFrom(c)
	runID := c.Param("id")

	var out model.RunData
	err := d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		svc := d.newRunDataService(tx)
		created, err := svc.Create(ctx, rundata.CreateInput{
			OrgID: t.OrgID(), RunID: runID, TaskID: req.TaskID, Key: req.Key,
			Value: req.Value, Metadata: req.Metadata, Tags: req.Tags,
		})
		out = created
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

var runDataSortFields = map[string]bool{"created_at": true, "updated_at": true, "key": true}

func (d *Deps) QueryRunData(c *gin.Context) {
	t := tenantFrom(c)
	runID := c.Param("id")

	limit, offset, err := runDataPagination(c)
	if err != nil {
		respondError(c, err)
		return
	}
	sortBy, sortOrder, err := sortParams(c, runDataSortFields)
	if err != nil {
		respondError(c, err)
		return
	}

	in := rundata.QueryInput{
		RunID:         runID,
		Key:           c.Query("key"),
		Keys:          splitCSV(c.Query("keys")),
		KeyStartsWith: splitCSV(c.Query("keyStartsWith")),
		KeyPattern:    c.Query("keyPattern"),
		Tags:          splitCSV(c.Query("tags")),
		TagMode:       tagModeFrom(c.Query("tagMode")),
		TagStartsWith: splitCSV(c.Query("tagStartsWith")),
		TagStartsMode: tagModeFrom(c.Query("tagMode")),
		IncludeAll:    c.Query("includeAll") == "true",
		Limit:         limit,
		Offset:        offset,
		SortBy:        rundata.SortField(sortBy),
		SortOrder:     rundata.SortOrder(sortOrder),
	}

	var page model.Page[model.RunData]
	err = d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		svc := d.newRunDataService(tx)
		p, err := svc.Query(ctx, in)
		page = p
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

func (d *Deps) UpdateRunDataTags(c *gin.Context) {
	var req UpdateRunDataTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, coreerrors.Validation("%v", err))
		return
	}
	t := tenantFrom(c)
	dataID := c.Param("dataId")

	var out model.RunData
	err := d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		svc := d.newRunDataService(tx)
		updated, err := svc.UpdateTags(ctx, dataID, req.Add, req.Remove)
		out = updated
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteRunData handles DELETE /runs/:id/data?key=|id=. Exactly one of key
// or id must be supplied; neither is invalid_input.
func (d *Deps) DeleteRunData(c *gin.Context) {
	t := tenantFrom(c)
	runID := c.Param("id")
	key := c.Query("key")
	dataID := c.Query("id")

	if key == "" && dataID == "" {
		respondError(c, coreerrors.Validation("exactly one of key or id is required"))
		return
	}
	if key != "" && dataID != "" {
		respondError(c, coreerrors.Validation("only one of key or id may be supplied"))
		return
	}

	var removed int64
	err := d.Pools.WithTx(c.Request.Context(), t, func(ctx context.Context, tx pgx.Tx) error {
		svc := d.newRunDataService(tx)
		if dataID != "" {
			if err := svc.DeleteByID(ctx, dataID); err != nil {
				return err
			}
			removed = 1
			return nil
		}
		n, err := svc.DeleteByKey(ctx, runID, key)
		removed = n
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}
