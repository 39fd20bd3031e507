package task

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"foreman/internal/model"
	"foreman/internal/run"
	coreerrors "foreman/internal/shared/errors"
)

// Clock returns the current time as epoch milliseconds.
type Clock func() int64

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	OrgID        string
	RunID        string
	ParentTaskID *string
	Type         string
	InputData    model.JSON
	Metadata     model.JSON
	MaxRetries   *int
}

// UpdateInput describes a requested Task mutation.
type UpdateInput struct {
	Status     *model.TaskStatus
	OutputData model.JSON
	ErrorData  model.JSON
	Metadata   model.JSON
	QueueJobID *string
}

// Service implements the Task Manager operations.
type Service struct {
	repo  Repository
	runs  *run.Service
	clock Clock
}

// NewService builds a Service. runs is used to keep the owning run's
// counters and existence/terminal checks consistent with task mutations.
func NewService(repo Repository, runs *run.Service, clock Clock) *Service {
	return &Service{repo: repo, runs: runs, clock: clock}
}

// Create inserts a new Task in the pending state and increments the owning
// run's total_tasks counter.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Task, error) {
	if in.OrgID == "" {
		return model.Task{}, coreerrors.Validation("orgId is required")
	}
	if in.RunID == "" {
		return model.Task{}, coreerrors.Validation("runId is required")
	}
	if in.Type == "" {
		return model.Task{}, coreerrors.Validation("type is required")
	}
	if len(in.InputData) == 0 {
		return model.Task{}, coreerrors.Validation("inputData is required")
	}

	owningRun, err := s.runs.Get(ctx, in.RunID)
	if err != nil {
		return model.Task{}, err
	}
	if owningRun.Status.Terminal() {
		return model.Task{}, coreerrors.Conflict("run %q is already in a terminal status", in.RunID)
	}

	if in.ParentTaskID != nil {
		parent, err := s.repo.Get(ctx, *in.ParentTaskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return model.Task{}, coreerrors.NotFound("task", *in.ParentTaskID)
			}
			return model.Task{}, coreerrors.Internal(err, "lookup parent task")
		}
		if parent.RunID != in.RunID {
			return model.Task{}, coreerrors.Validation("parentTaskId %q does not belong to run %q", *in.ParentTaskID, in.RunID)
		}
	}

	now := s.clock()
	task := model.Task{
		ID:           uuid.NewString(),
		OrgID:        in.OrgID,
		RunID:        in.RunID,
		ParentTaskID: in.ParentTaskID,
		Type:         in.Type,
		Status:       model.TaskPending,
		InputData:    in.InputData,
		Metadata:     in.Metadata,
		MaxRetries:   model.ClampMaxRetries(in.MaxRetries),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	out, err := s.repo.Insert(ctx, task)
	if err != nil {
		if errors.Is(err, ErrForeignKey) {
			return model.Task{}, coreerrors.Validation("runId or parentTaskId does not reference an existing row")
		}
		return model.Task{}, coreerrors.Internal(err, "insert task")
	}

	if _, err := s.runs.ApplyTaskDelta(ctx, in.RunID, 0, 0, 1); err != nil {
		return model.Task{}, err
	}
	return out, nil
}

// Get fetches one Task by id.
func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	out, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Task{}, coreerrors.NotFound("task", id)
		}
		return model.Task{}, coreerrors.Internal(err, "get task")
	}
	return out, nil
}

// Update applies a status/output transition, locking the task row and then
// (only for transitions affecting run counters) the owning run row, in that
// order, to avoid deadlocking against the opposite acquisition order.
//
// Terminal statuses are absorbing: once a task is completed/failed/cancelled,
// any attempt to move it to a different status is rejected with
// invalid_transition; non-status fields may still be amended.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Task, error) {
	current, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Task{}, coreerrors.NotFound("task", id)
		}
		return model.Task{}, coreerrors.Internal(err, "lock task")
	}
	if current.Status.Terminal() && in.Status != nil && *in.Status != current.Status {
		return model.Task{}, coreerrors.InvalidTransition(string(current.Status), string(*in.Status))
	}

	next := current
	now := s.clock()
	next.UpdatedAt = now

	if in.Metadata != nil {
		next.Metadata = in.Metadata
	}
	if in.OutputData != nil {
		next.OutputData = in.OutputData
	}
	if in.ErrorData != nil {
		next.ErrorData = in.ErrorData
	}
	if in.QueueJobID != nil {
		next.QueueJobID = in.QueueJobID
	}

	if in.Status == nil || *in.Status == current.Status {
		out, err := s.repo.Update(ctx, next)
		if err != nil {
			return model.Task{}, coreerrors.Internal(err, "update task")
		}
		return out, nil
	}

	// max_retries is advisory for workers (spec §4.6); retry_count is allowed
	// to exceed it, Foreman never rejects a retrying transition on that basis.

	next.Status = *in.Status
	switch next.Status {
	case model.TaskQueued:
		if next.QueuedAt == nil {
			queuedAt := now
			next.QueuedAt = &queuedAt
		}
	case model.TaskRunning:
		if next.StartedAt == nil {
			startedAt := now
			next.StartedAt = &startedAt
		}
	case model.TaskRetrying:
		next.RetryCount++
	}
	if next.Status.Terminal() {
		completedAt := now
		next.CompletedAt = &completedAt
		start := current.CreatedAt
		if next.StartedAt != nil {
			start = *next.StartedAt
		}
		duration := completedAt - start
		next.DurationMs = &duration
	}

	out, err := s.repo.Update(ctx, next)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Task{}, coreerrors.NotFound("task", id)
		}
		return model.Task{}, coreerrors.Internal(err, "update task")
	}

	switch next.Status {
	case model.TaskCompleted:
		if _, err := s.runs.ApplyTaskDelta(ctx, out.RunID, 1, 0, 0); err != nil {
			return model.Task{}, err
		}
	case model.TaskFailed:
		if _, err := s.runs.ApplyTaskDelta(ctx, out.RunID, 0, 1, 0); err != nil {
			return model.Task{}, err
		}
	}
	return out, nil
}

// List returns a page of tasks ordered by f.SortBy and f.SortOrder; with
// neither set, by creation time, most recent first.
func (s *Service) List(ctx context.Context, f ListFilter) (model.Page[model.Task], error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return model.Page[model.Task]{}, coreerrors.Internal(err, "list tasks")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	return model.Page[model.Task]{Items: items, Total: total, Limit: limit, Offset: f.Offset}, nil
}
