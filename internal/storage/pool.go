package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"foreman/internal/shared/config"
	"foreman/internal/shared/logging"
)

// PoolOptions configures one role's connection pool.
type PoolOptions struct {
	MaxConns       int32
	MinConns       int32
	MaxLifetime    time.Duration
	MaxIdle        time.Duration
	HealthCheck    time.Duration
	ConnectTimeout time.Duration
}

func defaultPoolOptions(maxConns int) PoolOptions {
	if maxConns <= 0 {
		maxConns = 20
	}
	return PoolOptions{
		MaxConns:       int32(maxConns),
		MinConns:       1,
		MaxLifetime:    time.Hour,
		MaxIdle:        30 * time.Minute,
		HealthCheck:    time.Minute,
		ConnectTimeout: 5 * time.Second,
	}
}

// Pools holds the two role-scoped connection pools Foreman requires: rls_user
// for ordinary tenant-scoped work and unrestricted_user for root.
type Pools struct {
	RLS  *pgxpool.Pool
	Root *pgxpool.Pool
}

// NewPools dials both pools and verifies connectivity. Close() must be
// called on shutdown.
func NewPools(ctx context.Context, dbCfg config.DatabaseConfig, logger logging.Logger) (*Pools, error) {
	logger = logging.OrNop(logger)

	rlsPool, err := newPool(ctx, dbCfg.DSN(dbCfg.RLSUser, dbCfg.RLSPassword), defaultPoolOptions(dbCfg.MaxConnsPerRole))
	if err != nil {
		return nil, fmt.Errorf("create rls_user pool: %w", err)
	}
	logger.Info("rls_user pool ready (max_conns=%d)", dbCfg.MaxConnsPerRole)

	rootPool, err := newPool(ctx, dbCfg.DSN(dbCfg.RootUser, dbCfg.RootPassword), defaultPoolOptions(dbCfg.MaxConnsPerRole))
	if err != nil {
		rlsPool.Close()
		return nil, fmt.Errorf("create unrestricted_user pool: %w", err)
	}
	logger.Info("unrestricted_user pool ready (max_conns=%d)", dbCfg.MaxConnsPerRole)

	return &Pools{RLS: rlsPool, Root: rootPool}, nil
}

func newPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = opts.MaxConns
	poolCfg.MinConns = opts.MinConns
	poolCfg.MaxConnLifetime = opts.MaxLifetime
	poolCfg.MaxConnIdleTime = opts.MaxIdle
	poolCfg.HealthCheckPeriod = opts.HealthCheck

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pool: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies Schema using the root pool (it needs DDL rights).
func (p *Pools) EnsureSchema(ctx context.Context) error {
	_, err := p.Root.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases both pools.
func (p *Pools) Close() {
	if p.RLS != nil {
		p.RLS.Close()
	}
	if p.Root != nil {
		p.Root.Close()
	}
}

// Healthy pings the rls pool, used by GET /health.
func (p *Pools) Healthy(ctx context.Context) error {
	return p.RLS.Ping(ctx)
}
