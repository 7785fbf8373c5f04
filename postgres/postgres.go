// Package postgres provides a pool manager over a PostgreSQL connection pool.
//
// Writes (Execute, ExecuteMany) are shielded from caller cancellation and bounded by their own
// timeout; reads (Fetch, FetchOne) are cancellable. Every call holds exactly one pooled connection
// for its duration and always hands it back, including on error or cancellation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/sheetwithoutsheet/swscore"
)

// ErrPoolNotOpen is returned by operations on a manager whose pool was never created or is closed.
var ErrPoolNotOpen = errors.New("postgres pool is not open")

// Pool is the part of *pgxpool.Pool the manager relies on.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Row is a result row keyed by column name.
type Row map[string]any

// PoolManager issues SQL through a shared connection pool.
type PoolManager struct {
	mux          sync.RWMutex
	pool         Pool
	closeTimeout time.Duration
}

// New wraps an already created pool.
func New(pool Pool) *PoolManager {
	return &PoolManager{
		pool:         pool,
		closeTimeout: swscore.CloseTimeout,
	}
}

// Create opens a pool for cfg and checks it can reach the server.
func Create(ctx context.Context, cfg Config) (*PoolManager, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	log.Info("Opening Postgres pool", "address", cfg.address(), "min", pc.MinConns, "max", pc.MaxConns)

	var pool *pgxpool.Pool
	err = swscore.Retry(ctx, cfg.ConnectAttempts, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, pc)
		if err == nil {
			if err = p.Ping(ctx); err != nil {
				p.Close()
			}
		}
		if err != nil {
			if swscore.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, swscore.NewError(swscore.ConnectionError, fmt.Errorf("failed to create postgres pool: %w", err), cfg.address())
	}
	return New(pool), nil
}

// CreateConnection opens a single connection outside of any pool, for administrative use.
// The caller owns it and must Close it.
func CreateConnection(ctx context.Context, cfg Config) (*pgx.Conn, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, pc.ConnConfig)
	if err != nil {
		return nil, swscore.NewError(swscore.ConnectionError, fmt.Errorf("failed to connect to postgres: %w", err), cfg.address())
	}
	return conn, nil
}

func (pm *PoolManager) getPool() (Pool, error) {
	pm.mux.RLock()
	defer pm.mux.RUnlock()
	if pm.pool == nil {
		return nil, ErrPoolNotOpen
	}
	return pm.pool, nil
}

// Close closes all connections in the pool, waiting at most swscore.CloseTimeout for borrowed
// connections to come back. Further use of the manager returns ErrPoolNotOpen.
func (pm *PoolManager) Close(ctx context.Context) error {
	pm.mux.Lock()
	pool := pm.pool
	pm.pool = nil
	pm.mux.Unlock()
	if pool == nil {
		return nil
	}

	log.Info("Closing Postgres pool")
	_, err := swscore.BoundedWait(ctx, "postgres pool close", pm.closeTimeout, func(context.Context) (struct{}, error) {
		pool.Close()
		return struct{}{}, nil
	})
	if err != nil {
		log.Warn("Postgres pool close did not finish", "error", err)
	}
	return err
}

// Execute runs an SQL command (or commands) with DefaultTimeout.
func (pm *PoolManager) Execute(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pm.ExecuteTimeout(ctx, DefaultTimeout, sql, args...)
}

// ExecuteTimeout runs an SQL command bounded by timeout. Caller cancellation does not interrupt it.
func (pm *PoolManager) ExecuteTimeout(ctx context.Context, timeout time.Duration, sql string, args ...any) (pgconn.CommandTag, error) {
	pool, err := pm.getPool()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return swscore.Shield(ctx, func(ctx context.Context) (pgconn.CommandTag, error) {
		ctx, cancel := swscore.WithTimeout(ctx, timeout)
		defer cancel()
		tag, err := pool.Exec(ctx, sql, args...)
		if err != nil {
			return tag, fmt.Errorf("postgres execute failed: %w", err)
		}
		log.Debug("postgres execute", "tag", tag.String())
		return tag, nil
	})
}

// ExecuteMany runs sql once per argument set on a single connection, inside one transaction,
// and returns the total rows affected. Nothing is applied if any execution fails.
func (pm *PoolManager) ExecuteMany(ctx context.Context, sql string, argSets [][]any) (int64, error) {
	return pm.ExecuteManyTimeout(ctx, 0, sql, argSets)
}

// ExecuteManyTimeout is ExecuteMany bounded by timeout; zero means unbounded.
func (pm *PoolManager) ExecuteManyTimeout(ctx context.Context, timeout time.Duration, sql string, argSets [][]any) (int64, error) {
	pool, err := pm.getPool()
	if err != nil {
		return 0, err
	}
	if len(argSets) == 0 {
		return 0, nil
	}
	return swscore.Shield(ctx, func(ctx context.Context) (int64, error) {
		ctx, cancel := swscore.WithTimeout(ctx, timeout)
		defer cancel()

		tx, err := pool.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("postgres executemany begin failed: %w", err)
		}
		var total int64
		for i, args := range argSets {
			tag, err := tx.Exec(ctx, sql, args...)
			if err != nil {
				if rerr := tx.Rollback(ctx); rerr != nil {
					log.Warn("postgres executemany rollback failed", "error", rerr)
				}
				return 0, fmt.Errorf("postgres executemany failed at argument set %d: %w", i, err)
			}
			total += tag.RowsAffected()
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("postgres executemany commit failed: %w", err)
		}
		return total, nil
	})
}

// Fetch runs a query with DefaultTimeout and returns all rows.
func (pm *PoolManager) Fetch(ctx context.Context, sql string, args ...any) ([]Row, error) {
	return pm.FetchTimeout(ctx, DefaultTimeout, sql, args...)
}

// FetchTimeout runs a query bounded by timeout and returns all rows.
func (pm *PoolManager) FetchTimeout(ctx context.Context, timeout time.Duration, sql string, args ...any) ([]Row, error) {
	pool, err := pm.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := swscore.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres fetch failed: %w", err)
	}
	defer rows.Close()

	result := make([]Row, 0)
	for rows.Next() {
		r, err := toRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres fetch failed: %w", err)
	}
	return result, nil
}

// FetchOne runs a query with DefaultTimeout and returns its first row, or nil if there is none.
func (pm *PoolManager) FetchOne(ctx context.Context, sql string, args ...any) (Row, error) {
	return pm.FetchOneTimeout(ctx, DefaultTimeout, sql, args...)
}

// FetchOneTimeout is FetchOne bounded by timeout.
func (pm *PoolManager) FetchOneTimeout(ctx context.Context, timeout time.Duration, sql string, args ...any) (Row, error) {
	pool, err := pm.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := swscore.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres fetchone failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres fetchone failed: %w", err)
		}
		return nil, nil
	}
	return toRow(rows)
}

// Stat returns pool counters when the manager wraps a *pgxpool.Pool, nil otherwise.
func (pm *PoolManager) Stat() *pgxpool.Stat {
	pool, err := pm.getPool()
	if err != nil {
		return nil
	}
	if p, ok := pool.(*pgxpool.Pool); ok {
		return p.Stat()
	}
	return nil
}

func toRow(rows pgx.Rows) (Row, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("postgres row decode failed: %w", err)
	}
	fields := rows.FieldDescriptions()
	r := make(Row, len(fields))
	for i, fd := range fields {
		if i < len(values) {
			r[fd.Name] = values[i]
		}
	}
	return r, nil
}
