package rundata

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"foreman/internal/model"
	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/task"
)

// Clock returns the current time as epoch milliseconds.
type Clock func() int64

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	OrgID    string
	RunID    string
	TaskID   string
	Key      string
	Value    model.JSON
	Metadata model.JSON
	Tags     []string
}

// Service implements the Run Data Store operations.
type Service struct {
	repo  Repository
	tasks *task.Service
	clock Clock
}

// NewService builds a Service. tasks is used to verify that the task a
// RunData row is attributed to actually belongs to the run it is posted
// against.
func NewService(repo Repository, tasks *task.Service, clock Clock) *Service {
	return &Service{repo: repo, tasks: tasks, clock: clock}
}

// Create appends a new RunData row. Run Data is append-only: creating a
// second value under a key already in use does not overwrite the first, it
// adds a newer row that Query's default latest-per-key collapse will prefer.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.RunData, error) {
	if in.OrgID == "" {
		return model.RunData{}, coreerrors.Validation("orgId is required")
	}
	if in.RunID == "" {
		return model.RunData{}, coreerrors.Validation("runId is required")
	}
	if in.TaskID == "" {
		return model.RunData{}, coreerrors.Validation("taskId is required")
	}
	if in.Key == "" {
		return model.RunData{}, coreerrors.Validation("key is required")
	}
	if len(in.Value) == 0 {
		return model.RunData{}, coreerrors.Validation("value is required")
	}

	owningTask, err := s.tasks.Get(ctx, in.TaskID)
	if err != nil {
		return model.RunData{}, err
	}
	if owningTask.RunID != in.RunID {
		return model.RunData{}, coreerrors.Validation("taskId %q does not belong to run %q", in.TaskID, in.RunID)
	}

	now := s.clock()
	data := model.RunData{
		ID:        uuid.NewString(),
		OrgID:     in.OrgID,
		RunID:     in.RunID,
		TaskID:    in.TaskID,
		Key:       in.Key,
		Value:     in.Value,
		Metadata:  in.Metadata,
		Tags:      dedupTags(in.Tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	out, err := s.repo.Insert(ctx, data)
	if err != nil {
		return model.RunData{}, coreerrors.Internal(err, "insert run_data")
	}
	return out, nil
}

// QueryInput mirrors Repository.QueryFilter at the service boundary.
type QueryInput struct {
	RunID         string
	Key           string
	Keys          []string
	KeyStartsWith []string
	KeyPattern    string
	Tags          []string
	TagMode       TagMode
	TagStartsWith []string
	TagStartsMode TagMode
	IncludeAll    bool
	Limit         int
	Offset        int
	SortBy        SortField
	SortOrder     SortOrder
}

// Query runs a filtered, paginated read over a run's data.
func (s *Service) Query(ctx context.Context, in QueryInput) (model.Page[model.RunData], error) {
	if in.RunID == "" {
		return model.Page[model.RunData]{}, coreerrors.Validation("runId is required")
	}
	items, total, err := s.repo.Query(ctx, QueryFilter{
		RunID:         in.RunID,
		Key:           in.Key,
		Keys:          in.Keys,
		KeyStartsWith: in.KeyStartsWith,
		KeyPattern:    in.KeyPattern,
		Tags:          in.Tags,
		TagMode:       in.TagMode,
		TagStartsWith: in.TagStartsWith,
		TagStartsMode: in.TagStartsMode,
		IncludeAll:    in.IncludeAll,
		Limit:         in.Limit,
		Offset:        in.Offset,
		SortBy:        in.SortBy,
		SortOrder:     in.SortOrder,
	})
	if err != nil {
		return model.Page[model.RunData]{}, coreerrors.Internal(err, "query run_data")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}
	return model.Page[model.RunData]{Items: items, Total: total, Limit: limit, Offset: in.Offset}, nil
}

// UpdateTags adds and removes tags on the run-data row identified by dataID.
// Adding an already-present tag or removing an absent one is a no-op for
// that tag, so repeated calls with the same input converge on the same set.
func (s *Service) UpdateTags(ctx context.Context, dataID string, add, remove []string) (model.RunData, error) {
	current, err := s.repo.Get(ctx, dataID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.RunData{}, coreerrors.NotFound("run_data", dataID)
		}
		return model.RunData{}, coreerrors.Internal(err, "lookup run_data")
	}

	next := applyTagOps(current.Tags, add, remove)
	out, err := s.repo.UpdateTags(ctx, dataID, next, s.clock())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.RunData{}, coreerrors.NotFound("run_data", dataID)
		}
		return model.RunData{}, coreerrors.Internal(err, "update run_data tags")
	}
	return out, nil
}

// DeleteByID removes one row by id.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return coreerrors.NotFound("run_data", id)
		}
		return coreerrors.Internal(err, "delete run_data")
	}
	return nil
}

// DeleteByKey removes every row under (runID, key), returning how many were
// removed. Deleting a key with no rows under it is a not_found: the caller
// asked for a specific deletion, not an idempotent "ensure absent".
func (s *Service) DeleteByKey(ctx context.Context, runID, key string) (int64, error) {
	n, err := s.repo.DeleteByKey(ctx, runID, key)
	if err != nil {
		return 0, coreerrors.Internal(err, "delete run_data by key")
	}
	if n == 0 {
		return 0, coreerrors.NotFound("run_data key", key)
	}
	return n, nil
}

func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func applyTagOps(current []string, add, remove []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, t := range remove {
		removeSet[t] = true
	}
	keep := make([]string, 0, len(current))
	for _, t := range current {
		if !removeSet[t] {
			keep = append(keep, t)
		}
	}
	return dedupTags(append(keep, add...))
}
