package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/model"
)

// Clock returns the current time as epoch milliseconds. Tests substitute a
// fixed-step fake; production wires time.Now().UnixMilli.
type Clock func() int64

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	OrgID     string
	InputData model.JSON
	Metadata  model.JSON
}

// UpdateInput describes a requested Run mutation. Only non-nil fields are
// applied; Status, when set, may not move a run out of a terminal status
// (see Update).
type UpdateInput struct {
	Status     *model.RunStatus
	OutputData model.JSON
	ErrorData  model.JSON
	Metadata   model.JSON
}

// Service implements the Run Manager operations.
type Service struct {
	repo  Repository
	clock Clock
}

// NewService builds a Service. clock must be non-nil; the caller's bootstrap
// code wires a real wall clock. Services in this package never call
// time.Now() directly so tests can control it.
func NewService(repo Repository, clock Clock) *Service {
	return &Service{repo: repo, clock: clock}
}

// Create inserts a new Run in the pending state.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Run, error) {
	if in.OrgID == "" {
		return model.Run{}, coreerrors.Validation("orgId is required")
	}
	if len(in.InputData) == 0 {
		return model.Run{}, coreerrors.Validation("inputData is required")
	}

	now := s.clock()
	run := model.Run{
		ID:        uuid.NewString(),
		OrgID:     in.OrgID,
		Status:    model.RunPending,
		InputData: in.InputData,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	out, err := s.repo.Insert(ctx, run)
	if err != nil {
		return model.Run{}, coreerrors.Internal(err, "insert run")
	}
	return out, nil
}

// Get fetches one Run by id.
func (s *Service) Get(ctx context.Context, id string) (model.Run, error) {
	out, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Run{}, coreerrors.NotFound("run", id)
		}
		return model.Run{}, coreerrors.Internal(err, "get run")
	}
	return out, nil
}

// Update applies a status/output transition. Once a run has reached a
// terminal status, any attempt to move it to a different status is rejected
// with invalid_transition; non-status fields (output/error/metadata) may
// still be amended on a terminal run.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Run, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Run{}, err
	}
	if current.Status.Terminal() && in.Status != nil && *in.Status != current.Status {
		return model.Run{}, coreerrors.InvalidTransition(string(current.Status), string(*in.Status))
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

	if in.Status != nil && *in.Status != current.Status {
		next.Status = *in.Status

		if next.Status == model.RunRunning && next.StartedAt == nil {
			startedAt := now
			next.StartedAt = &startedAt
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
	}

	out, err := s.repo.Update(ctx, next)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Run{}, coreerrors.NotFound("run", id)
		}
		return model.Run{}, coreerrors.Internal(err, "update run")
	}
	return out, nil
}

// ApplyTaskDelta is invoked by the task manager, inside the same
// transaction that updates the task row, to keep the parent run's counters
// consistent with its tasks per the invariant
// completed_tasks + failed_tasks <= total_tasks. Callers must lock the task
// row before the run row (see internal/task) to avoid deadlocking against a
// concurrent update taking the opposite order.
func (s *Service) ApplyTaskDelta(ctx context.Context, runID string, completedDelta, failedDelta, totalDelta int) (model.Run, error) {
	current, err := s.repo.GetForUpdate(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Run{}, coreerrors.NotFound("run", runID)
		}
		return model.Run{}, coreerrors.Internal(err, "lock run")
	}

	totalTasks := current.TotalTasks + totalDelta
	completedTasks := current.CompletedTasks + completedDelta
	failedTasks := current.FailedTasks + failedDelta

	if completedTasks+failedTasks > totalTasks {
		return model.Run{}, coreerrors.Internal(
			fmt.Errorf("completed(%d)+failed(%d) > total(%d)", completedTasks, failedTasks, totalTasks),
			"run task counters",
		)
	}

	out, err := s.repo.UpdateCounters(ctx, runID, completedTasks, failedTasks, totalTasks, s.clock())
	if err != nil {
		return model.Run{}, coreerrors.Internal(err, "update run counters")
	}
	return out, nil
}

// List returns a page of runs ordered by f.SortBy and f.SortOrder; with
// neither set, by creation time, most recent first.
func (s *Service) List(ctx context.Context, f ListFilter) (model.Page[model.Run], error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return model.Page[model.Run]{}, coreerrors.Internal(err, "list runs")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	return model.Page[model.Run]{Items: items, Total: total, Limit: limit, Offset: f.Offset}, nil
}
