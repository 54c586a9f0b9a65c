package exec

import (
	"context"
	"time"

	"github.com/coregx/relq/internal/analyzer"
	"github.com/coregx/relq/internal/tracer"
)

// Explain returns the plan the database reports for q. With analyze set
// the statement is executed by the database; not every dialect supports
// that (see analyzer.ErrUnsupported).
func (db *DB) Explain(ctx context.Context, q *CompiledQuery, params map[string]any, analyze bool) (*analyzer.Plan, error) {
	ctx, span := db.cfg.tracer.StartSpan(ctx, "relq.query.explain")
	defer span.End()

	a, err := analyzer.For(db.cfg.dialect.Name())
	if err != nil {
		tracer.AddQueryAttributes(span, &tracer.QueryMetadata{SQL: q.SQL, Database: db.driverName, Error: err})
		return nil, err
	}
	args, err := db.bind(ctx, q, params)
	if err != nil {
		tracer.AddQueryAttributes(span, &tracer.QueryMetadata{SQL: q.SQL, Database: db.driverName, Error: err})
		return nil, err
	}

	start := time.Now()
	plan, err := a.Explain(ctx, db.sqlDB, q.SQL, args, analyze)
	elapsed := time.Since(start)
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{SQL: q.SQL, Database: db.driverName, Duration: elapsed, Error: err})
	if err != nil {
		db.cfg.logger.Error("explain failed", "sql", q.SQL, "error", err)
		return nil, err
	}
	db.cfg.logger.Debug("query explained",
		"sql", q.SQL,
		"accesses", len(plan.Accesses),
		"full_scans", plan.FullScans(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return plan, nil
}
