package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/model"
	"foreman/internal/run"
	coreerrors "foreman/internal/shared/errors"
)

type fakeRunRepository struct {
	byID map[string]model.Run
}

func newFakeRunRepository(seed ...model.Run) *fakeRunRepository {
	f := &fakeRunRepository{byID: map[string]model.Run{}}
	for _, r := range seed {
		f.byID[r.ID] = r
	}
	return f
}

func (f *fakeRunRepository) Insert(_ context.Context, r model.Run) (model.Run, error) {
	f.byID[r.ID] = r
	return r, nil
}

func (f *fakeRunRepository) Get(_ context.Context, id string) (model.Run, error) {
	r, ok := f.byID[id]
	if !ok {
		return model.Run{}, run.ErrNotFound
	}
	return r, nil
}

func (f *fakeRunRepository) GetForUpdate(ctx context.Context, id string) (model.Run, error) {
	return f.Get(ctx, id)
}

func (f *fakeRunRepository) Update(_ context.Context, r model.Run) (model.Run, error) {
	if _, ok := f.byID[r.ID]; !ok {
		return model.Run{}, run.ErrNotFound
	}
	f.byID[r.ID] = r
	return r, nil
}

func (f *fakeRunRepository) UpdateCounters(_ context.Context, id string, completedTasks, failedTasks, totalTasks int, updatedAt int64) (model.Run, error) {
	r, ok := f.byID[id]
	if !ok {
		return model.Run{}, run.ErrNotFound
	}
	r.CompletedTasks = completedTasks
	r.FailedTasks = failedTasks
	r.TotalTasks = totalTasks
	r.UpdatedAt = updatedAt
	f.byID[id] = r
	return r, nil
}

func (f *fakeRunRepository) List(_ context.Context, _ run.ListFilter) ([]model.Run, int, error) {
	return nil, 0, nil
}

type fakeTaskRepository struct {
	byID map[string]model.Task
}

func newFakeTaskRepository() *fakeTaskRepository {
	return &fakeTaskRepository{byID: map[string]model.Task{}}
}

func (f *fakeTaskRepository) Insert(_ context.Context, t model.Task) (model.Task, error) {
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTaskRepository) Get(_ context.Context, id string) (model.Task, error) {
	t, ok := f.byID[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskRepository) GetForUpdate(ctx context.Context, id string) (model.Task, error) {
	return f.Get(ctx, id)
}

func (f *fakeTaskRepository) Update(_ context.Context, t model.Task) (model.Task, error) {
	if _, ok := f.byID[t.ID]; !ok {
		return model.Task{}, ErrNotFound
	}
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTaskRepository) List(_ context.Context, _ ListFilter) ([]model.Task, int, error) {
	return nil, 0, nil
}

func fixedClock(t int64) Clock { return func() int64 { return t } }

func newTestService(t *testing.T, seedRun model.Run) (*Service, *run.Service) {
	t.Helper()
	runRepo := newFakeRunRepository(seedRun)
	runSvc := run.NewService(runRepo, run.Clock(fixedClock(1000)))
	taskSvc := NewService(newFakeTaskRepository(), runSvc, fixedClock(1000))
	return taskSvc, runSvc
}

func pendingRun(id string) model.Run {
	return model.Run{ID: id, OrgID: "org-1", Status: model.RunPending, InputData: model.JSON(`{}`), CreatedAt: 500, UpdatedAt: 500}
}

func TestCreateIncrementsRunTotal(t *testing.T) {
	svc, runSvc := newTestService(t, pendingRun("run-1"))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`),
	})
	require.NoError(t, err)
	require.Equal(t, model.TaskPending, created.Status)
	require.Equal(t, model.MaxRetriesDefault, created.MaxRetries)

	updatedRun, err := runSvc.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, updatedRun.TotalTasks)
}

func TestCreateRejectsTerminalRun(t *testing.T) {
	terminal := pendingRun("run-1")
	terminal.Status = model.RunCompleted
	svc, _ := newTestService(t, terminal)

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`),
	})
	require.ErrorIs(t, err, coreerrors.ErrConflict)
}

func TestUpdateCompletedIncrementsRunCompletedTasks(t *testing.T) {
	svc, runSvc := newTestService(t, pendingRun("run-1"))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`),
	})
	require.NoError(t, err)

	running := model.TaskRunning
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &running})
	require.NoError(t, err)

	completed := model.TaskCompleted
	done, err := svc.Update(ctx, created.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, done.Status)
	require.NotNil(t, done.DurationMs)

	updatedRun, err := runSvc.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, updatedRun.CompletedTasks)
}

// max_retries is advisory for workers only (spec §4.6): Foreman itself
// accepts a retrying transition even once retry_count would exceed it.
func TestRetryingAcceptsExceedingMaxRetries(t *testing.T) {
	svc, _ := newTestService(t, pendingRun("run-1"))
	ctx := context.Background()

	zero := 0
	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`), MaxRetries: &zero,
	})
	require.NoError(t, err)

	running := model.TaskRunning
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &running})
	require.NoError(t, err)

	retrying := model.TaskRetrying
	out, err := svc.Update(ctx, created.ID, UpdateInput{Status: &retrying})
	require.NoError(t, err)
	require.Equal(t, 1, out.RetryCount)
	require.Greater(t, out.RetryCount, out.MaxRetries)
}

func TestUpdateAllowsDirectJumpToTerminalStatus(t *testing.T) {
	svc, runSvc := newTestService(t, pendingRun("run-1"))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`),
	})
	require.NoError(t, err)

	// pending -> failed with no intervening running/queued hop is not
	// forbidden: the only rule is that a terminal status never moves to a
	// different one.
	failed := model.TaskFailed
	done, err := svc.Update(ctx, created.ID, UpdateInput{Status: &failed})
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, done.Status)
	require.NotNil(t, done.DurationMs)

	updatedRun, err := runSvc.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, updatedRun.FailedTasks)
}

func TestTerminalTaskRejectsFurtherStatusTransitions(t *testing.T) {
	svc, _ := newTestService(t, pendingRun("run-1"))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`),
	})
	require.NoError(t, err)

	cancelled := model.TaskCancelled
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &cancelled})
	require.NoError(t, err)

	running := model.TaskRunning
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &running})
	require.ErrorIs(t, err, coreerrors.ErrInvalidTransition)

	unchanged, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCancelled, unchanged.Status)
}

func TestTerminalTaskAllowsMetadataOnlyUpdate(t *testing.T) {
	svc, _ := newTestService(t, pendingRun("run-1"))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", Type: "http.fetch", InputData: model.JSON(`{}`),
	})
	require.NoError(t, err)

	cancelled := model.TaskCancelled
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: &cancelled})
	require.NoError(t, err)

	out, err := svc.Update(ctx, created.ID, UpdateInput{Metadata: model.JSON(`{"note":"late"}`)})
	require.NoError(t, err)
	require.Equal(t, model.TaskCancelled, out.Status)
	require.JSONEq(t, `{"note":"late"}`, string(out.Metadata))
}
