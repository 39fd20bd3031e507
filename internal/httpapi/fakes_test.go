package httpapi

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"foreman/internal/tenant"
)

var errBoom = errors.New("boom")

// healthOnlyPools satisfies storage.TxRunner for tests that never reach a
// handler touching the database (routing, auth/tenant middleware).
type healthOnlyPools struct {
	err error
}

func (p *healthOnlyPools) WithTx(_ context.Context, _ tenant.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return errors.New("healthOnlyPools: no transaction available in this test")
}

func (p *healthOnlyPools) Healthy(_ context.Context) error { return p.err }

// fakePools runs fn against a pgxmock-scripted transaction instead of a live
// database, the same seam storage.Querier gives repositories one layer down.
type fakePools struct {
	pool pgxmock.PgxPoolIface
}

func newFakePools(pool pgxmock.PgxPoolIface) *fakePools {
	return &fakePools{pool: pool}
}

func (p *fakePools) WithTx(ctx context.Context, _ tenant.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (p *fakePools) Healthy(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
