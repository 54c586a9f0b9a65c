package analyzer

import (
	"context"
	"fmt"
	"strings"
)

type sqliteAnalyzer struct{}

// Explain runs EXPLAIN QUERY PLAN. SQLite has no analyzing form.
func (sqliteAnalyzer) Explain(ctx context.Context, q Querier, query string, args []any, analyze bool) (*Plan, error) {
	if analyze {
		return nil, fmt.Errorf("%w: sqlite has no EXPLAIN ANALYZE", ErrUnsupported)
	}
	rows, err := q.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, args...)
	if err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []string
	for rows.Next() {
		var id, parent, unused int
		var detail string
		if err := rows.Scan(&id, &parent, &unused, &detail); err != nil {
			return nil, fmt.Errorf("explain: %w", err)
		}
		lines = append(lines, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}
	return parseSQLitePlan(lines), nil
}

// parseSQLitePlan reads the detail column of EXPLAIN QUERY PLAN, e.g.
//
//	SCAN c
//	SEARCH o USING INDEX orders_customer (customer_id=?)
//	SEARCH c USING INTEGER PRIMARY KEY (rowid=?)
func parseSQLitePlan(lines []string) *Plan {
	plan := &Plan{Database: "sqlite", Accesses: []Access{}, Raw: strings.Join(lines, "\n")}
	for _, line := range lines {
		if a, ok := parseSQLiteLine(line); ok {
			plan.Accesses = append(plan.Accesses, a)
		}
	}
	return plan
}

func parseSQLiteLine(line string) (Access, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Access{}, false
	}
	switch strings.ToUpper(fields[0]) {
	case "SCAN", "SEARCH":
	default:
		// temp b-trees, co-routines, compound markers
		return Access{}, false
	}
	if strings.EqualFold(fields[1], "CONSTANT") {
		return Access{}, false
	}

	a := Access{Table: fields[1], Method: Scan}
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "USING AUTOMATIC"):
		a.Method = Automatic
	case strings.Contains(upper, "USING INTEGER PRIMARY KEY"), strings.Contains(upper, "USING PRIMARY KEY"):
		a.Method = PrimaryKey
	case strings.Contains(upper, "USING COVERING INDEX "):
		a.Method = Covering
		a.Index = wordAfter(line, upper, "USING COVERING INDEX ")
	case strings.Contains(upper, "USING INDEX "):
		a.Method = IndexSeek
		a.Index = wordAfter(line, upper, "USING INDEX ")
	}
	return a, true
}

// wordAfter returns the word of line that follows marker, which is looked
// up in upper, the upper-cased line.
func wordAfter(line, upper, marker string) string {
	i := strings.Index(upper, marker)
	rest := strings.TrimSpace(line[i+len(marker):])
	if end := strings.IndexAny(rest, " ("); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
