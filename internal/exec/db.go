package exec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coregx/relq/internal/cache"
	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/dialects"
)

// DB runs compiled queries on a database/sql pool. It owns a cache of
// prepared statements keyed by SQL text.
type DB struct {
	sqlDB      *sql.DB
	driverName string
	cfg        *config
	compiler   *Compiler
	stmts      *cache.StmtCache
	health     *healthChecker
}

// Open opens a pool for driverName. Unless WithDialect is given the dialect
// is looked up by the driver name.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db, err := New(sqlDB, driverName, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an open pool. Close closes sqlDB.
func New(sqlDB *sql.DB, driverName string, opts ...Option) (*DB, error) {
	cfg := newConfig(opts)
	if cfg.dialect == nil {
		d, ok := dialects.LookupDialect(driverName)
		if !ok {
			return nil, fmt.Errorf("%w for driver %q", ErrNoDialect, driverName)
		}
		cfg.dialect = d
	}
	if cfg.maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.maxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.maxIdleConns)
	}

	db := &DB{
		sqlDB:      sqlDB,
		driverName: driverName,
		cfg:        cfg,
		compiler:   &Compiler{cfg: cfg},
		stmts:      cache.NewStmtCache(cfg.stmtCacheCap),
	}
	if cfg.healthInterval > 0 {
		db.health = newHealthChecker(sqlDB, cfg.logger, cfg.healthInterval)
		db.health.start()
	}
	return db, nil
}

// Close stops the health checker, closes cached statements and the pool.
func (db *DB) Close() error {
	if db.health != nil {
		db.health.shutdown()
	}
	db.stmts.Clear()
	return db.sqlDB.Close()
}

// SQLDB returns the underlying pool.
func (db *DB) SQLDB() *sql.DB { return db.sqlDB }

// DriverName returns the driver the pool was opened with.
func (db *DB) DriverName() string { return db.driverName }

// Dialect returns the dialect queries are compiled for.
func (db *DB) Dialect() dialects.Dialect { return db.cfg.dialect }

// Stats returns statement cache counters.
func (db *DB) Stats() cache.Stats { return db.stmts.Stats() }

// Healthy reports the result of the last health check and when it ran. It
// is true with a zero time before the first check or without health checks.
func (db *DB) Healthy() (bool, time.Time) {
	if db.health == nil {
		return true, time.Time{}
	}
	return db.health.status()
}

// Compile compiles s for the DB's dialect.
func (db *DB) Compile(ctx context.Context, s *core.SelectExpression, sh core.Shaper) (*CompiledQuery, error) {
	return db.compiler.Compile(ctx, s, sh)
}

// Run compiles s and executes it with params.
func (db *DB) Run(ctx context.Context, s *core.SelectExpression, sh core.Shaper, params map[string]any) ([]any, error) {
	q, err := db.Compile(ctx, s, sh)
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, q, params)
}

// Invalidate drops the prepared statement of q, e.g. after a schema change.
func (db *DB) Invalidate(q *CompiledQuery) {
	db.stmts.Remove(q.SQL)
}
