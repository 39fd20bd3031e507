package rundata

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/model"
	"foreman/internal/run"
	coreerrors "foreman/internal/shared/errors"
	"foreman/internal/task"
)

type fakeRepository struct {
	rows []model.RunData
}

func newFakeRepository() *fakeRepository { return &fakeRepository{} }

func (f *fakeRepository) Insert(_ context.Context, d model.RunData) (model.RunData, error) {
	f.rows = append(f.rows, d)
	return d, nil
}

func (f *fakeRepository) Get(_ context.Context, id string) (model.RunData, error) {
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return model.RunData{}, ErrNotFound
}

func (f *fakeRepository) Query(_ context.Context, filter QueryFilter) ([]model.RunData, int, error) {
	var matched []model.RunData
	for _, r := range f.rows {
		if r.RunID != filter.RunID {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt > matched[j].CreatedAt })
	if !filter.IncludeAll {
		matched = collapseLatestPerKey(matched)
	}
	return matched, len(matched), nil
}

func (f *fakeRepository) UpdateTags(_ context.Context, id string, tags []string, updatedAt int64) (model.RunData, error) {
	for i, r := range f.rows {
		if r.ID == id {
			f.rows[i].Tags = tags
			f.rows[i].UpdatedAt = updatedAt
			return f.rows[i], nil
		}
	}
	return model.RunData{}, ErrNotFound
}

func (f *fakeRepository) DeleteByID(_ context.Context, id string) error {
	for i, r := range f.rows {
		if r.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeRepository) DeleteByKey(_ context.Context, runID, key string) (int64, error) {
	var kept []model.RunData
	var removed int64
	for _, r := range f.rows {
		if r.RunID == runID && r.Key == key {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return removed, nil
}

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

func newFakeTaskRepository(seed ...model.Task) *fakeTaskRepository {
	f := &fakeTaskRepository{byID: map[string]model.Task{}}
	for _, t := range seed {
		f.byID[t.ID] = t
	}
	return f
}

func (f *fakeTaskRepository) Insert(_ context.Context, t model.Task) (model.Task, error) {
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTaskRepository) Get(_ context.Context, id string) (model.Task, error) {
	t, ok := f.byID[id]
	if !ok {
		return model.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskRepository) GetForUpdate(ctx context.Context, id string) (model.Task, error) {
	return f.Get(ctx, id)
}

func (f *fakeTaskRepository) Update(_ context.Context, t model.Task) (model.Task, error) {
	if _, ok := f.byID[t.ID]; !ok {
		return model.Task{}, task.ErrNotFound
	}
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTaskRepository) List(_ context.Context, _ task.ListFilter) ([]model.Task, int, error) {
	return nil, 0, nil
}

// newTaskLookup builds a real task.Service over fake repositories, seeded
// with one task per (id, runID) pair, so Create's run-ownership check has
// something to look up.
func newTaskLookup(clock Clock, taskRunPairs ...[2]string) *task.Service {
	runs := map[string]model.Run{}
	tasks := make([]model.Task, 0, len(taskRunPairs))
	for _, pair := range taskRunPairs {
		id, runID := pair[0], pair[1]
		runs[runID] = model.Run{ID: runID, Status: model.RunRunning}
		tasks = append(tasks, model.Task{ID: id, RunID: runID})
	}
	seededRuns := make([]model.Run, 0, len(runs))
	for _, r := range runs {
		seededRuns = append(seededRuns, r)
	}
	runSvc := run.NewService(newFakeRunRepository(seededRuns...), run.Clock(clock))
	return task.NewService(newFakeTaskRepository(tasks...), runSvc, task.Clock(clock))
}

func fixedClock(values ...int64) Clock {
	i := 0
	return func() int64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func TestCreateIsAppendOnly(t *testing.T) {
	repo := newFakeRepository()
	clock := fixedClock(100, 200)
	svc := NewService(repo, newTaskLookup(clock, [2]string{"task-1", "run-1"}), clock)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{OrgID: "org-1", RunID: "run-1", TaskID: "task-1", Key: "progress", Value: model.JSON(`1`)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{OrgID: "org-1", RunID: "run-1", TaskID: "task-1", Key: "progress", Value: model.JSON(`2`)})
	require.NoError(t, err)

	require.Len(t, repo.rows, 2)

	page, err := svc.Query(ctx, QueryInput{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, model.JSON(`2`), page.Items[0].Value)
}

func TestQueryIncludeAllReturnsEveryRow(t *testing.T) {
	repo := newFakeRepository()
	clock := fixedClock(100, 200)
	svc := NewService(repo, newTaskLookup(clock, [2]string{"task-1", "run-1"}), clock)
	ctx := context.Background()

	_, _ = svc.Create(ctx, CreateInput{OrgID: "org-1", RunID: "run-1", TaskID: "task-1", Key: "progress", Value: model.JSON(`1`)})
	_, _ = svc.Create(ctx, CreateInput{OrgID: "org-1", RunID: "run-1", TaskID: "task-1", Key: "progress", Value: model.JSON(`2`)})

	page, err := svc.Query(ctx, QueryInput{RunID: "run-1", IncludeAll: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
}

func TestUpdateTagsIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	clock := fixedClock(100, 200, 300)
	svc := NewService(repo, newTaskLookup(clock, [2]string{"task-1", "run-1"}), clock)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", TaskID: "task-1", Key: "progress", Value: model.JSON(`1`), Tags: []string{"stage:fetch"},
	})
	require.NoError(t, err)

	first, err := svc.UpdateTags(ctx, created.ID, []string{"stage:fetch", "milestone"}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"stage:fetch", "milestone"}, first.Tags)

	second, err := svc.UpdateTags(ctx, created.ID, []string{"stage:fetch"}, []string{"absent"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"stage:fetch", "milestone"}, second.Tags)
}

func TestDeleteByKeyReturnsNotFoundWhenUnused(t *testing.T) {
	repo := newFakeRepository()
	clock := fixedClock(100)
	svc := NewService(repo, newTaskLookup(clock), clock)
	ctx := context.Background()

	_, err := svc.DeleteByKey(ctx, "run-1", "never-written")
	require.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestCreateRejectsTaskFromAnotherRun(t *testing.T) {
	repo := newFakeRepository()
	clock := fixedClock(100)
	svc := NewService(repo, newTaskLookup(clock, [2]string{"task-1", "run-1"}, [2]string{"task-2", "run-2"}), clock)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		OrgID: "org-1", RunID: "run-1", TaskID: "task-2", Key: "progress", Value: model.JSON(`1`),
	})
	require.Error(t, err)
	require.Equal(t, coreerrors.KindValidation, coreerrors.KindOf(err))
}
