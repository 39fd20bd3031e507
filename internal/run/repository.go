// Package run implements the Run Manager: creation, lookup, status
// transition, and listing of top-level workflow executions.
package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"foreman/internal/model"
	"foreman/internal/storage"
)

// Repository persists Run rows. Every method is called inside a
// tenant-scoped transaction opened by storage.Pools.WithTx, so the RLS
// policy on the run table is the actual tenant boundary; the repository
// itself trusts whatever rows its session is allowed to see.
type Repository interface {
	Insert(ctx context.Context, r model.Run) (model.Run, error)
	Get(ctx context.Context, id string) (model.Run, error)
	GetForUpdate(ctx context.Context, id string) (model.Run, error)
	Update(ctx context.Context, r model.Run) (model.Run, error)
	// UpdateCounters rewrites only the task-bookkeeping columns, never the
	// status/output/error/metadata fields Update owns. Callers must already
	// hold the row lock from GetForUpdate.
	UpdateCounters(ctx context.Context, id string, completedTasks, failedTasks, totalTasks int, updatedAt int64) (model.Run, error)
	List(ctx context.Context, f ListFilter) ([]model.Run, int, error)
}

// ListFilter narrows, sorts, and paginates List results.
type ListFilter struct {
	Status    *model.RunStatus
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// listSortColumns whitelists the columns list_runs may sort by, guarding
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

const runColumns = `id, org_id, status, input_data, output_data, error_data, metadata,
	total_tasks, completed_tasks, failed_tasks,
	created_at, updated_at, started_at, completed_at, duration_ms`

func (r *pgRepository) Insert(ctx context.Context, run model.Run) (model.Run, error) {
	const query = `
INSERT INTO run (id, org_id, status, input_data, metadata, total_tasks, completed_tasks, failed_tasks, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $6)
RETURNING ` + runColumns

	var out model.Run
	err := scanRun(r.db.QueryRow(ctx, query,
		run.ID, run.OrgID, run.Status, run.InputData, run.Metadata, run.CreatedAt,
	), &out)
	if err != nil {
		return model.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return out, nil
}

func (r *pgRepository) Get(ctx context.Context, id string) (model.Run, error) {
	const query = `SELECT ` + runColumns + ` FROM run WHERE id = $1`

	var out model.Run
	if err := scanRun(r.db.QueryRow(ctx, query, id), &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("get run: %w", err)
	}
	return out, nil
}

// GetForUpdate locks the run row for the remainder of the transaction. The
// task manager calls this after it has already locked the task row, never
// before, to keep lock acquisition order consistent across the codebase and
// avoid deadlocking against a concurrent update taking the opposite order.
func (r *pgRepository) GetForUpdate(ctx context.Context, id string) (model.Run, error) {
	const query = `SELECT ` + runColumns + ` FROM run WHERE id = $1 FOR UPDATE`

	var out model.Run
	if err := scanRun(r.db.QueryRow(ctx, query, id), &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("get run for update: %w", err)
	}
	return out, nil
}

// Update rewrites the Run Manager's own fields: status, output/error,
// metadata, and the lifecycle timestamps. It never touches
// completed_tasks/failed_tasks/total_tasks — those are Task-Manager-owned
// and only ever change through UpdateCounters, which runs under the row
// lock GetForUpdate takes. Writing them here too would let a PATCH built
// from a non-locking Get clobber a concurrent counter increment.
func (r *pgRepository) Update(ctx context.Context, run model.Run) (model.Run, error) {
	const query = `
UPDATE run
SET status = $2, output_data = $3, error_data = $4, metadata = $5,
    updated_at = $6, started_at = $7, completed_at = $8, duration_ms = $9
WHERE id = $1
RETURNING ` + runColumns

	var out model.Run
	err := scanRun(r.db.QueryRow(ctx, query,
		run.ID, run.Status, run.OutputData, run.ErrorData, run.Metadata,
		run.UpdatedAt, run.StartedAt, run.CompletedAt, run.DurationMs,
	), &out)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("update run: %w", err)
	}
	return out, nil
}

// UpdateCounters rewrites only completed_tasks/failed_tasks/total_tasks.
// Called by ApplyTaskDelta after GetForUpdate has locked the row, so the
// read-modify-write is atomic against concurrent task transitions.
func (r *pgRepository) UpdateCounters(ctx context.Context, id string, completedTasks, failedTasks, totalTasks int, updatedAt int64) (model.Run, error) {
	const query = `
UPDATE run
SET completed_tasks = $2, failed_tasks = $3, total_tasks = $4, updated_at = $5
WHERE id = $1
RETURNING ` + runColumns

	var out model.Run
	err := scanRun(r.db.QueryRow(ctx, query, id, completedTasks, failedTasks, totalTasks, updatedAt), &out)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("update run counters: %w", err)
	}
	return out, nil
}

func (r *pgRepository) List(ctx context.Context, f ListFilter) ([]model.Run, int, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + runColumns + `, count(*) OVER() AS total_count FROM run`
	args := []any{}
	if f.Status != nil {
		args = append(args, *f.Status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += orderByClause(f.SortBy, f.SortOrder)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var (
		out   []model.Run
		total int
	)
	for rows.Next() {
		var run model.Run
		if err := rows.Scan(
			&run.ID, &run.OrgID, &run.Status, &run.InputData, &run.OutputData, &run.ErrorData, &run.Metadata,
			&run.TotalTasks, &run.CompletedTasks, &run.FailedTasks,
			&run.CreatedAt, &run.UpdatedAt, &run.StartedAt, &run.CompletedAt, &run.DurationMs,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, total, nil
}

func scanRun(row pgx.Row, out *model.Run) error {
	return row.Scan(
		&out.ID, &out.OrgID, &out.Status, &out.InputData, &out.OutputData, &out.ErrorData, &out.Metadata,
		&out.TotalTasks, &out.CompletedTasks, &out.FailedTasks,
		&out.CreatedAt, &out.UpdatedAt, &out.StartedAt, &out.CompletedAt, &out.DurationMs,
	)
}

// ErrNotFound is returned by Get/Update when no row matches id (within the
// caller's tenant scope). The service layer translates it into the shared
// not_found error kind.
var ErrNotFound = errors.New("run: not found")
