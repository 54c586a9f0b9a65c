// Package analyzer reads the execution plan a database reports for a
// compiled statement. PostgreSQL and MySQL plans are read from their JSON
// EXPLAIN formats, SQLite plans from EXPLAIN QUERY PLAN rows. Every
// dialect is reduced to the same Plan: one Access per table read.
package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned for dialects or modes without an EXPLAIN
// reader.
var ErrUnsupported = errors.New("analyzer: explain not supported")

// Method is how a table is read.
type Method string

// Access methods.
const (
	Scan       Method = "scan"        // every row is visited
	IndexSeek  Method = "index"       // rows are located through an index
	PrimaryKey Method = "primary_key" // rows are located through the key
	Covering   Method = "covering"    // the index alone answers the read
	Automatic  Method = "automatic"   // an index built for this statement
)

// Access is one table read of a plan, in plan order.
type Access struct {
	Table  string `json:"table"`
	Method Method `json:"method"`
	Index  string `json:"index,omitempty"`
	Rows   int64  `json:"rows,omitempty"`
}

// Plan is the execution plan of one statement.
type Plan struct {
	Database      string   `json:"database"`
	Cost          float64  `json:"cost,omitempty"`
	EstimatedRows int64    `json:"estimated_rows,omitempty"`
	Accesses      []Access `json:"accesses"`

	// Set by analyzing explains only.
	ActualRows  int64         `json:"actual_rows,omitempty"`
	ActualTime  time.Duration `json:"actual_time,omitempty"`
	BuffersHit  int64         `json:"buffers_hit,omitempty"`
	BuffersRead int64         `json:"buffers_read,omitempty"`

	Raw string `json:"-"`
}

// FullScans returns the tables that are read row by row.
func (p *Plan) FullScans() []string {
	var out []string
	for _, a := range p.Accesses {
		if a.Method == Scan {
			out = append(out, a.Table)
		}
	}
	return out
}

// UsesIndex reports whether any table is read through an index.
func (p *Plan) UsesIndex() bool {
	for _, a := range p.Accesses {
		if a.Method != Scan {
			return true
		}
	}
	return false
}

// Querier runs the EXPLAIN statement. *sql.DB, *sql.Conn and *sql.Tx
// satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Analyzer explains statements of one dialect. With analyze set the
// statement is executed and actual figures are reported.
type Analyzer interface {
	Explain(ctx context.Context, q Querier, query string, args []any, analyze bool) (*Plan, error)
}

var analyzers = map[string]Analyzer{
	"postgres": postgresAnalyzer{},
	"mysql":    mysqlAnalyzer{},
	"sqlite":   sqliteAnalyzer{},
}

// For returns the analyzer of the dialect named dialect.
func For(dialect string) (Analyzer, error) {
	a, ok := analyzers[dialect]
	if !ok {
		return nil, fmt.Errorf("%w for dialect %q", ErrUnsupported, dialect)
	}
	return a, nil
}

// explainJSON runs a JSON EXPLAIN statement that returns a single text cell.
func explainJSON(ctx context.Context, q Querier, stmt string, args []any) (string, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("explain: %w", err)
		}
		return "", errors.New("explain: no plan returned")
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}
	return raw, rows.Err()
}
