package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/model"
)

type fakeRepository struct {
	byID map[string]model.Run
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byID: map[string]model.Run{}}
}

func (f *fakeRepository) Insert(_ context.Context, r model.Run) (model.Run, error) {
	f.byID[r.ID] = r
	return r, nil
}

func (f *fakeRepository) Get(_ context.Context, id string) (model.Run, error) {
	r, ok := f.byID[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeRepository) GetForUpdate(ctx context.Context, id string) (model.Run, error) {
	return f.Get(ctx, id)
}

func (f *fakeRepository) Update(_ context.Context, r model.Run) (model.Run, error) {
	if _, ok := f.byID[r.ID]; !ok {
		return model.Run{}, ErrNotFound
	}
	f.byID[r.ID] = r
	return r, nil
}

func (f *fakeRepository) UpdateCounters(_ context.Context, id string, completedTasks, failedTasks, totalTasks int, updatedAt int64) (model.Run, error) {
	r, ok := f.byID[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	r.CompletedTasks = completedTasks
	r.FailedTasks = failedTasks
	r.TotalTasks = totalTasks
	r.UpdatedAt = updatedAt
	f.byID[id] = r
	return r, nil
}

func (f *fakeRepository) List(_ context.Context, _ ListFilter) ([]model.Run, int, error) {
	var out []model.Run
	for _, r := range f.byID {
		out = append(out, r)
	}
	return out, len(out), nil
}

func fixedClock(t int64) Clock {
	return func() int64 { return t }
}

func TestCreateRequiresInputData(t *testing.T) {
	svc := NewService(newFakeRepository(), fixedClock(0))
	_, err := svc.Create(context.Background(), CreateInput{OrgID: "org-1"})
	require.ErrorIs(t, err, coreerrors.ErrValidation)
}

func TestUpdateAllowsAnyNonTerminalTransition(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, fixedClock(1000))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OrgID: "org-1", InputData: model.JSON(`{}`)})
	require.NoError(t, err)

	// A direct pending -> completed jump is not forbidden: the only rule
	// is that a terminal status never moves to a different one.
	completed := model.RunCompleted
	updated, err := svc.Update(ctx, created.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
}

func TestUpdateSetsStartedAtOnFirstRunningTransition(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, fixedClock(1000))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OrgID: "org-1", InputData: model.JSON(`{}`)})
	require.NoError(t, err)

	running := model.RunRunning
	updated, err := svc.Update(ctx, created.ID, UpdateInput{Status: &running})
	require.NoError(t, err)
	require.Equal(t, model.RunRunning, updated.Status)
	require.NotNil(t, updated.StartedAt)
}

func TestTerminalRejectsFurtherStatusTransitions(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, fixedClock(1000))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OrgID: "org-1", InputData: model.JSON(`{}`)})
	require.NoError(t, err)

	running := model.RunRunning
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &running})
	require.NoError(t, err)

	failed := model.RunFailed
	terminal, err := svc.Update(ctx, created.ID, UpdateInput{Status: &failed})
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, terminal.Status)
	require.NotNil(t, terminal.DurationMs)

	cancelled := model.RunCancelled
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &cancelled})
	require.ErrorIs(t, err, coreerrors.ErrInvalidTransition)

	unchanged, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, unchanged.Status)
}

func TestTerminalAllowsMetadataOnlyUpdate(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, fixedClock(1000))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OrgID: "org-1", InputData: model.JSON(`{}`)})
	require.NoError(t, err)

	failed := model.RunFailed
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &failed})
	require.NoError(t, err)

	out, err := svc.Update(ctx, created.ID, UpdateInput{Metadata: model.JSON(`{"note":"late"}`)})
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, out.Status)
	require.JSONEq(t, `{"note":"late"}`, string(out.Metadata))
}

func TestApplyTaskDeltaRejectsOverCounting(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, fixedClock(1000))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{OrgID: "org-1", InputData: model.JSON(`{}`)})
	require.NoError(t, err)

	_, err = svc.ApplyTaskDelta(ctx, created.ID, 1, 0, 0)
	require.ErrorIs(t, err, coreerrors.ErrInternal)

	updated, err := svc.ApplyTaskDelta(ctx, created.ID, 0, 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, updated.TotalTasks)

	updated, err = svc.ApplyTaskDelta(ctx, created.ID, 1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, updated.CompletedTasks)
}
