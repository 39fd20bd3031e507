package httpapi

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"foreman/internal/model"
	"foreman/internal/rundata"
	coreerrors "foreman/internal/shared/errors"
)

// CreateRunRequest is the body of POST /runs. Binding tags are enforced by
// gin's default validator (go-playground/validator) through ShouldBindJSON.
type CreateRunRequest struct {
	InputData model.JSON `json:"inputData" binding:"required"`
	Metadata  model.JSON `json:"metadata"`
}

// UpdateRunRequest is the body of PATCH /runs/:id.
type UpdateRunRequest struct {
	Status     *model.RunStatus `json:"status"`
	OutputData model.JSON       `json:"outputData"`
	ErrorData  model.JSON       `json:"errorData"`
	Metadata   model.JSON       `json:"metadata"`
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	RunID        string     `json:"runId" binding:"required"`
	ParentTaskID *string    `json:"parentTaskId"`
	Type         string     `json:"type" binding:"required"`
	InputData    model.JSON `json:"inputData" binding:"required"`
	Metadata     model.JSON `json:"metadata"`
	MaxRetries   *int       `json:"maxRetries"`
}

// UpdateTaskRequest is the body of PATCH /tasks/:id.
type UpdateTaskRequest struct {
	Status     *model.TaskStatus `json:"status"`
	OutputData model.JSON        `json:"outputData"`
	ErrorData  model.JSON        `json:"errorData"`
	Metadata   model.JSON        `json:"metadata"`
}

// CreateRunDataRequest is the body of POST /runs/:id/data.
type CreateRunDataRequest struct {
	TaskID   string     `json:"taskId" binding:"required"`
	Key      string     `json:"key" binding:"required"`
	Value    model.JSON `json:"value" binding:"required"`
	Metadata model.JSON `json:"metadata"`
	Tags     []string   `json:"tags"`
}

// UpdateRunDataTagsRequest is the body of PATCH /runs/:id/data/:dataId/tags.
type UpdateRunDataTagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// pagination is the envelope's `pagination` object.
type pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// pageEnvelope is the `{ data, pagination }` shape every list/query endpoint
// returns.
type pageEnvelope struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func envelope[T any](p model.Page[T]) pageEnvelope {
	items := p.Items
	if items == nil {
		items = []T{}
	}
	return pageEnvelope{
		Data:       items,
		Pagination: pagination{Total: p.Total, Limit: p.Limit, Offset: p.Offset},
	}
}

// paginationParams parses limit/offset, enforcing limit ∈ [1, maxLimit]
// (when supplied) and offset ≥ 0; out-of-range values are invalid_input,
// matching the request-boundary validation the rest of the boundary layer
// performs before anything reaches a service.
func paginationParams(c *gin.Context, defaultLimit, maxLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if v := c.Query("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxLimit {
			return 0, 0, coreerrors.Validation("limit must be an integer between 1 and %d", maxLimit)
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, coreerrors.Validation("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func runsTasksPagination(c *gin.Context) (limit, offset int, err error) {
	return paginationParams(c, 20, 100)
}

func runDataPagination(c *gin.Context) (limit, offset int, err error) {
	return paginationParams(c, 100, 1000)
}

// sortParams parses sortBy/sortOrder, validating sortBy against allowed (a
// set of field names legal for the calling endpoint) and sortOrder against
// {asc, desc}. Empty values are left empty for the caller to default.
func sortParams(c *gin.Context, allowed map[string]bool) (sortBy, sortOrder string, err error) {
	sortBy = c.Query("sortBy")
	if sortBy != "" && !allowed[sortBy] {
		return "", "", coreerrors.Validation("sortBy %q is not a supported sort field", sortBy)
	}
	sortOrder = c.Query("sortOrder")
	if sortOrder != "" && sortOrder != "asc" && sortOrder != "desc" {
		return "", "", coreerrors.Validation("sortOrder must be 'asc' or 'desc'")
	}
	return sortBy, sortOrder, nil
}

// splitCSV splits a comma-separated query value into its non-empty,
// whitespace-trimmed parts. An empty input yields a nil slice.
func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// tagModeFrom parses a tagMode query value, defaulting to "any".
func tagModeFrom(v string) rundata.TagMode {
	if v == "all" {
		return rundata.TagModeAll
	}
	return rundata.TagModeAny
}
