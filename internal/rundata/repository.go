// Package rundata implements the Run Data Store: an append-only, tagged
// key/value artifact log scoped to a run (and the task that produced each
// value), plus the query/tag/delete operations layered on top of it.
package rundata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"foreman/internal/model"
	"foreman/internal/storage"
)

// Repository persists RunData rows, always inside a tenant-scoped transaction.
type Repository interface {
	Insert(ctx context.Context, d model.RunData) (model.RunData, error)
	Get(ctx context.Context, id string) (model.RunData, error)
	Query(ctx context.Context, f QueryFilter) ([]model.RunData, int, error)
	UpdateTags(ctx context.Context, id string, tags []string, updatedAt int64) (model.RunData, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByKey(ctx context.Context, runID, key string) (int64, error)
}

// TagMode selects how a tag filter is matched against a row's tag array.
type TagMode int

const (
	// TagModeAny matches rows that carry at least one of the filter's tags.
	TagModeAny TagMode = iota
	// TagModeAll matches rows that carry every one of the filter's tags.
	TagModeAll
)

// SortField selects the column query_run_data orders by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByKey       SortField = "key"
)

// SortOrder selects ascending or descending order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryFilter narrows, sorts, paginates, and selects the collapse behavior
// for Query. Key filters (Key, Keys, KeyStartsWith, KeyPattern) are
// OR-combined when more than one is set; tag filters are independent ANDs.
type QueryFilter struct {
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

type pgRepository struct {
	db storage.Querier
}

// NewRepository builds a Repository bound to db, typically a pgx.Tx handed
// in by storage.Pools.WithTx.
func NewRepository(db storage.Querier) Repository {
	return &pgRepository{db: db}
}

const runDataColumns = `id, org_id, run_id, task_id, key, value, metadata, tags, created_at, updated_at`

func (r *pgRepository) Insert(ctx context.Context, d model.RunData) (model.RunData, error) {
	const query = `
INSERT INTO run_data (id, org_id, run_id, task_id, key, value, metadata, tags, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING ` + runDataColumns

	var out model.RunData
	err := scanRunData(r.db.QueryRow(ctx, query,
		d.ID, d.OrgID, d.RunID, d.TaskID, d.Key, d.Value, d.Metadata, d.Tags, d.CreatedAt,
	), &out)
	if err != nil {
		return model.RunData{}, fmt.Errorf("insert run_data: %w", err)
	}
	return out, nil
}

func (r *pgRepository) Get(ctx context.Context, id string) (model.RunData, error) {
	const query = `SELECT ` + runDataColumns + ` FROM run_data WHERE id = $1`

	var out model.RunData
	if err := scanRunData(r.db.QueryRow(ctx, query, id), &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunData{}, ErrNotFound
		}
		return model.RunData{}, fmt.Errorf("get run_data: %w", err)
	}
	return out, nil
}

// Query fetches every row matching f's key/tag filters, ordered by
// created_at DESC, id DESC so the latest-per-key collapse (when IncludeAll
// is false) keeps the first row seen for each key. Sorting per f.SortBy /
// f.SortOrder and pagination are both applied afterwards, in Go, since they
// must run after the collapse rather than before it.
func (r *pgRepository) Query(ctx context.Context, f QueryFilter) ([]model.RunData, int, error) {
	query := `SELECT ` + runDataColumns + ` FROM run_data WHERE run_id = $1`
	args := []any{f.RunID}

	var keyConds []string
	if f.Key != "" {
		args = append(args, f.Key)
		keyConds = append(keyConds, fmt.Sprintf("key = $%d", len(args)))
	}
	if len(f.Keys) > 0 {
		args = append(args, f.Keys)
		keyConds = append(keyConds, fmt.Sprintf("key = ANY($%d)", len(args)))
	}
	for _, prefix := range f.KeyStartsWith {
		args = append(args, escapeLikeLiteral(prefix)+"%")
		keyConds = append(keyConds, fmt.Sprintf(`key LIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.KeyPattern != "" {
		if isGlob(f.KeyPattern) {
			args = append(args, compileLikePattern(f.KeyPattern))
			keyConds = append(keyConds, fmt.Sprintf(`key LIKE $%d ESCAPE '\'`, len(args)))
		} else {
			// No glob metacharacters: an equality check is cheaper than LIKE
			// and can use the key index directly.
			args = append(args, f.KeyPattern)
			keyConds = append(keyConds, fmt.Sprintf("key = $%d", len(args)))
		}
	}
	if len(keyConds) > 0 {
		query += " AND (" + strings.Join(keyConds, " OR ") + ")"
	}

	if len(f.Tags) > 0 {
		args = append(args, f.Tags)
		if f.TagMode == TagModeAll {
			query += fmt.Sprintf(" AND tags @> $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND tags && $%d", len(args))
		}
	}
	if len(f.TagStartsWith) > 0 {
		var conds []string
		for _, prefix := range f.TagStartsWith {
			args = append(args, escapeLikeLiteral(prefix)+"%")
			conds = append(conds, fmt.Sprintf(`EXISTS (SELECT 1 FROM unnest(tags) tg WHERE tg LIKE $%d ESCAPE '\')`, len(args)))
		}
		joiner := " OR "
		if f.TagStartsMode == TagModeAll {
			joiner = " AND "
		}
		query += " AND (" + strings.Join(conds, joiner) + ")"
	}

	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query run_data: %w", err)
	}
	defer rows.Close()

	var all []model.RunData
	for rows.Next() {
		var d model.RunData
		if err := rows.Scan(&d.ID, &d.OrgID, &d.RunID, &d.TaskID, &d.Key, &d.Value, &d.Metadata, &d.Tags, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan run_data row: %w", err)
		}
		all = append(all, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate run_data rows: %w", err)
	}

	if !f.IncludeAll {
		all = collapseLatestPerKey(all)
	}
	sortRunData(all, f.SortBy, f.SortOrder)

	total := len(all)
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 100
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// collapseLatestPerKey keeps the first (most recent, since rows arrive
// ordered by created_at DESC, id DESC) row seen for each key.
func collapseLatestPerKey(rows []model.RunData) []model.RunData {
	seen := make(map[string]bool, len(rows))
	out := make([]model.RunData, 0, len(rows))
	for _, row := range rows {
		if seen[row.Key] {
			continue
		}
		seen[row.Key] = true
		out = append(out, row)
	}
	return out
}

// sortRunData orders rows by by (default created_at) and order (default
// desc), breaking ties on id for a total order.
func sortRunData(rows []model.RunData, by SortField, order SortOrder) {
	less := func(i, j int) bool {
		switch by {
		case SortByUpdatedAt:
			if rows[i].UpdatedAt != rows[j].UpdatedAt {
				return rows[i].UpdatedAt < rows[j].UpdatedAt
			}
		case SortByKey:
			if rows[i].Key != rows[j].Key {
				return rows[i].Key < rows[j].Key
			}
		default:
			if rows[i].CreatedAt != rows[j].CreatedAt {
				return rows[i].CreatedAt < rows[j].CreatedAt
			}
		}
		return rows[i].ID < rows[j].ID
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if order == SortAsc {
			return less(i, j)
		}
		return less(j, i)
	})
}

func (r *pgRepository) UpdateTags(ctx context.Context, id string, tags []string, updatedAt int64) (model.RunData, error) {
	const query = `
UPDATE run_data SET tags = $2, updated_at = $3
WHERE id = $1
RETURNING ` + runDataColumns

	var out model.RunData
	if err := scanRunData(r.db.QueryRow(ctx, query, id, tags, updatedAt), &out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunData{}, ErrNotFound
		}
		return model.RunData{}, fmt.Errorf("update run_data tags: %w", err)
	}
	return out, nil
}

func (r *pgRepository) DeleteByID(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM run_data WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run_data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepository) DeleteByKey(ctx context.Context, runID, key string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM run_data WHERE run_id = $1 AND key = $2`, runID, key)
	if err != nil {
		return 0, fmt.Errorf("delete run_data by key: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRunData(row pgx.Row, out *model.RunData) error {
	return row.Scan(&out.ID, &out.OrgID, &out.RunID, &out.TaskID, &out.Key, &out.Value, &out.Metadata, &out.Tags, &out.CreatedAt, &out.UpdatedAt)
}

// ErrNotFound is returned when no row matches the lookup within the
// caller's tenant scope.
var ErrNotFound = errors.New("rundata: not found")
