package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/sqlgen"
	"github.com/coregx/relq/internal/tracer"
)

var (
	// ErrMissingParam is returned when a named parameter has no value.
	ErrMissingParam = errors.New("exec: missing parameter")
	// ErrDialectMismatch is returned when a query compiled for one dialect
	// is run on a DB of another.
	ErrDialectMismatch = errors.New("exec: dialect mismatch")
)

// bindArgs resolves the named parameters of args from params.
func bindArgs(args []any, params map[string]any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		p, ok := a.(sqlgen.Param)
		if !ok {
			out[i] = a
			continue
		}
		v, ok := params[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingParam, p.Name)
		}
		out[i] = v
	}
	return out, nil
}

// bind checks that q was compiled for this DB, validates params and
// returns the positional arguments of q.
func (db *DB) bind(ctx context.Context, q *CompiledQuery, params map[string]any) ([]any, error) {
	if q.Dialect != db.cfg.dialect.Name() {
		return nil, fmt.Errorf("%w: compiled for %s, running on %s", ErrDialectMismatch, q.Dialect, db.cfg.dialect.Name())
	}
	if db.cfg.paramValidator != nil {
		if err := db.cfg.paramValidator.ValidateParams(params); err != nil {
			db.cfg.auditor.LogSecurityEvent(ctx, "params_rejected", q.SQL, err)
			return nil, err
		}
	}
	return bindArgs(q.Args, params)
}

// prepare returns the cached statement for query, preparing it on a miss.
func (db *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := db.stmts.Get(query); ok {
		return stmt, nil
	}
	stmt, err := db.sqlDB.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	db.stmts.Put(query, stmt)
	return stmt, nil
}

// Query executes q with the named params and returns one record per owner
// row. See materializer for the record shapes.
func (db *DB) Query(ctx context.Context, q *CompiledQuery, params map[string]any) ([]any, error) {
	ctx, span := db.cfg.tracer.StartSpan(ctx, "relq.query.execute")
	defer span.End()

	args, err := db.bind(ctx, q, params)
	if err != nil {
		tracer.AddQueryAttributes(span, &tracer.QueryMetadata{SQL: q.SQL, Database: db.driverName, Error: err})
		return nil, err
	}

	start := time.Now()
	records, rows, err := db.query(ctx, q, args)
	elapsed := time.Since(start)

	db.logExecution(q, args, params, len(records), rows, err, elapsed)
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:      q.SQL,
		Database: db.driverName,
		Duration: elapsed,
		Rows:     rows,
		Records:  len(records),
		Error:    err,
	})
	db.invokeHook(ctx, QueryEvent{SQL: q.SQL, Args: args, Duration: elapsed, Rows: rows, Records: len(records), Error: err})
	db.cfg.auditor.LogQuery(ctx, q.SQL, params, len(records), err, elapsed)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (db *DB) query(ctx context.Context, q *CompiledQuery, args []any) ([]any, int64, error) {
	stmt, err := db.prepare(ctx, q.SQL)
	if err != nil {
		return nil, 0, fmt.Errorf("prepare: %w", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, err
	}
	if len(cols) != len(q.Kinds) {
		return nil, 0, core.ErrInvariantViolation.New(fmt.Sprintf("query returned %d columns, projection has %d", len(cols), len(q.Kinds)))
	}

	m := newMaterializer(q.Shaper, q.Kinds)
	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	var n int64
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, n, err
		}
		n++
		if err := m.add(values); err != nil {
			return nil, n, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, n, err
	}
	if m.records == nil {
		return []any{}, n, nil
	}
	return m.records, n, nil
}

func (db *DB) logExecution(q *CompiledQuery, args []any, params map[string]any, records int, rows int64, err error, elapsed time.Duration) {
	s := db.cfg.sanitizer
	kv := []any{
		"sql", q.SQL,
		"args", s.FormatParams(s.MaskParams(q.SQL, args)),
		"params", s.FormatNamed(s.MaskNamed(params)),
		"duration_ms", elapsed.Milliseconds(),
		"database", db.driverName,
	}
	if err != nil {
		db.cfg.logger.Error("query execution failed", append(kv, "error", err)...)
		return
	}
	db.cfg.logger.Info("query executed", append(kv, "rows", rows, "records", records)...)
}
