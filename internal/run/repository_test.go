package run

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"foreman/internal/model"
)

func runRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "org_id", "status", "input_data", "output_data", "error_data", "metadata",
		"total_tasks", "completed_tasks", "failed_tasks",
		"created_at", "updated_at", "started_at", "completed_at", "duration_ms",
	})
}

func TestRepositoryInsert(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)
	ctx := context.Background()

	in := model.Run{
		ID:        "run-1",
		OrgID:     "org-1",
		Status:    model.RunPending,
		InputData: model.JSON(`{"a":1}`),
		CreatedAt: 1000,
	}

	pool.ExpectQuery("INSERT INTO run").
		WithArgs(in.ID, in.OrgID, in.Status, in.InputData, in.Metadata, in.CreatedAt).
		WillReturnRows(runRows().AddRow(
			in.ID, in.OrgID, in.Status, in.InputData, nil, nil, nil,
			0, 0, 0, in.CreatedAt, in.CreatedAt, nil, nil, nil,
		))

	out, err := repo.Insert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, model.RunPending, out.Status)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRepositoryGetNotFound(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)
	ctx := context.Background()

	pool.ExpectQuery("SELECT").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRepositoryUpdate(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)
	ctx := context.Background()

	started := int64(1500)
	in := model.Run{
		ID:        "run-1",
		OrgID:     "org-1",
		Status:    model.RunRunning,
		InputData: model.JSON(`{"a":1}`),
		CreatedAt: 1000,
		UpdatedAt: 1500,
		StartedAt: &started,
	}

	pool.ExpectQuery("UPDATE run").
		WithArgs(in.ID, in.Status, in.OutputData, in.ErrorData, in.Metadata,
			in.UpdatedAt, in.StartedAt, in.CompletedAt, in.DurationMs).
		WillReturnRows(runRows().AddRow(
			in.ID, in.OrgID, in.Status, in.InputData, nil, nil, nil,
			0, 0, 0, in.CreatedAt, in.UpdatedAt, in.StartedAt, nil, nil,
		))

	out, err := repo.Update(ctx, in)
	require.NoError(t, err)
	require.Equal(t, model.RunRunning, out.Status)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRepositoryUpdateCounters(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)
	ctx := context.Background()

	pool.ExpectQuery("UPDATE run").
		WithArgs("run-1", 1, 0, 2, int64(2000)).
		WillReturnRows(runRows().AddRow(
			"run-1", "org-1", model.RunRunning, model.JSON(`{"a":1}`), nil, nil, nil,
			2, 1, 0, int64(1000), int64(2000), nil, nil, nil,
		))

	out, err := repo.UpdateCounters(ctx, "run-1", 1, 0, 2, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, out.CompletedTasks)
	require.Equal(t, 2, out.TotalTasks)
	require.NoError(t, pool.ExpectationsWereMet())
}
