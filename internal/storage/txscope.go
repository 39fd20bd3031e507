package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"foreman/internal/tenant"
)

// setOrgSQL binds the session variable every RLS policy in Schema checks.
// The boolean true argument makes set_config transaction-local: the setting
// reverts automatically at commit/rollback, so a pooled connection can never
// leak one tenant's scope into the next checkout.
const setOrgSQL = `SELECT set_config('app.current_org_id', $1, true)`

// TxRunner is the subset of *Pools that handlers depend on. Accepting it
// rather than the concrete type lets httpapi tests substitute a fake that
// runs fn against a pgxmock-scripted transaction instead of a live database,
// the same seam Querier gives repositories one layer down.
type TxRunner interface {
	WithTx(ctx context.Context, t tenant.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	Healthy(ctx context.Context) error
}

// WithTx opens a transaction against the pool appropriate for t (RLS pool for
// ordinary org contexts, root pool for tenant.UpgradeToRoot contexts), binds
// the tenant session variable inside it, and runs fn. The transaction commits
// if fn returns nil and rolls back otherwise.
func (p *Pools) WithTx(ctx context.Context, t tenant.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	pool := p.poolFor(t)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, setOrgSQL, t.SessionOrgID()); err != nil {
		return fmt.Errorf("bind tenant session: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Pools) poolFor(t tenant.Context) *pgxpool.Pool {
	if t.IsRoot() {
		return p.Root
	}
	return p.RLS
}
