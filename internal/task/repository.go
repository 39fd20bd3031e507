// Package task implements the Task Manager: creation, lookup, status
// transition (with run counter bookkeeping), and listing of units of work.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"foreman/internal/model"
	"foreman/internal/storage"
)

// Repository persists Task rows, always inside a tenant-scoped transaction.
type Repository interface {
	Insert(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	GetForUpdate(ctx context.Context, id string) (model.Task, error)
	Update(ctx context.Context, t model.Task) (model.Task, error)
	List(ctx context.Context, f ListFilter) ([]model.Task, int, error)
}

// ListFilter narrows, sorts, and paginates List results.
type ListFilter struct {
	RunID     *string
	Status    *model.TaskStatus
	Type      *string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// listSortColumns whitelists the columns list_tasks may sort by, guarding
// against SQL injection through a client-supplied sort_by value.
var listSortColumns = map[string]string{
	"created_at":   "created_at",
	"started_at":   "started_at",
	"completed_at": "completed_at",
}

func orderByClause(sortBy, sortOrder string) string {
	col, ok := listSortColumns[sortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if sortOrder == "asc" {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
}

type pgRepository struct {
	db storage.Querier
}

// NewRepository builds a Repository bound to db, typically a pgx.Tx handed
// in by storage.Pools.WithTx.
func NewRepository(db storage.Querier) Repository {
	return &pgRepository{db: db}
}

const taskColumns = `id, org_id, run_id, parent_task_id, type, status,
	input_data, output_data, error_data, metadata,
	retry_count, max_retries, queue_job_id,
	created_at, updated_at, queued_at, started_at, completed_at, duration_ms`

func (r *pgRepository) Insert(ctx context.Context, t model.Task) (model.Task, error) {
	const query = `
INSERT INTO task (id, org_id, run_id, parent_task_id, type, status, input_data, metadata, max_retries, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
RETURNING ` + taskColumns

	var out model.Task
	err := scanTask(r.db.QueryRow(ctx, query,
		t.ID, t.OrgID, t.RunID, t.ParentTaskID, t.Type, t.Status, t.InputData, t.Metadata, t.MaxRetries, t.CreatedAt,
	), &out)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return model.Task{}, ErrForeignKey
		}
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return out, nil
}

func (r *pgRepository) Get(ctx context.Context, id string) (model.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM task WHERE id = $1`

	var out model.Task
	if err := scanTask(r.db.QueryRow(ctx, query, id), &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return out, nil
}

// GetForUpdate locks the task row. Callers that also need the owning run
// locked (status transitions affecting counters) must call this before
// run.Repository.GetForUpdate, never after, to keep lock order consistent.
func (r *pgRepository) GetForUpdate(ctx context.Context, id string) (model.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM task WHERE id = $1 FOR UPDATE`

	var out model.Task
	if err := scanTask(r.db.QueryRow(ctx, query, id), &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, fmt.Errorf("get task for update: %w", err)
	}
	return out, nil
}

func (r *pgRepository) Update(ctx context.Context, t model.Task) (model.Task, error) {
	const query = `
UPDATE task
SET status = $2, output_data = $3, error_data = $4, metadata = $5,
    retry_count = $6, queue_job_id = $7,
    updated_at = $8, queued_at = $9, started_at = $10, completed_at = $11, duration_ms = $12
WHERE id = $1
RETURNING ` + taskColumns

	var out model.Task
	err := scanTask(r.db.QueryRow(ctx, query,
		t.ID, t.Status, t.OutputData, t.ErrorData, t.Metadata,
		t.RetryCount, t.QueueJobID,
		t.UpdatedAt, t.QueuedAt, t.StartedAt, t.CompletedAt, t.DurationMs,
	), &out)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, fmt.Errorf("update task: %w", err)
	}
	return out, nil
}

func (r *pgRepository) List(ctx context.Context, f ListFilter) ([]model.Task, int, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + taskColumns + `, count(*) OVER() AS total_count FROM task`
	var (
		args   []any
		clause []string
	)
	if f.RunID != nil {
		args = append(args, *f.RunID)
		clause = append(clause, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		clause = append(clause, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		clause = append(clause, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(clause) > 0 {
		query += " WHERE "
		for i, c := range clause {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}
	query += orderByClause(f.SortBy, f.SortOrder)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var (
		out   []model.Task
		total int
	)
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(
			&t.ID, &t.OrgID, &t.RunID, &t.ParentTaskID, &t.Type, &t.Status,
			&t.InputData, &t.OutputData, &t.ErrorData, &t.Metadata,
			&t.RetryCount, &t.MaxRetries, &t.QueueJobID,
			&t.CreatedAt, &t.UpdatedAt, &t.QueuedAt, &t.StartedAt, &t.CompletedAt, &t.DurationMs,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, total, nil
}

func scanTask(row pgx.Row, out *model.Task) error {
	return row.Scan(
		&out.ID, &out.OrgID, &out.RunID, &out.ParentTaskID, &out.Type, &out.Status,
		&out.InputData, &out.OutputData, &out.ErrorData, &out.Metadata,
		&out.RetryCount, &out.MaxRetries, &out.QueueJobID,
		&out.CreatedAt, &out.UpdatedAt, &out.QueuedAt, &out.StartedAt, &out.CompletedAt, &out.DurationMs,
	)
}

// ErrNotFound is returned when no row matches id within the caller's tenant scope.
var ErrNotFound = errors.New("task: not found")

// ErrForeignKey is returned when run_id or parent_task_id does not reference
// an existing row (within the caller's tenant scope, enforced by RLS plus
// the foreign key).
var ErrForeignKey = errors.New("task: invalid run or parent reference")
