// Package dialects provides database-specific SQL dialect implementations for
// PostgreSQL, MySQL, SQLite and SQL Server, handling identifier quoting,
// placeholders and row-limiting clauses.
package dialects

import "sort"

// Dialect defines database-specific behaviors.
type Dialect interface {
	// Name returns the canonical dialect name.
	Name() string
	QuoteIdentifier(string) string
	Placeholder(int) string
	// RowWindow renders the row-limiting clause for already rendered limit
	// and offset operands. Either operand may be empty.
	RowWindow(limit, offset string) RowWindow
}

// RowWindow is the dialect form of LIMIT/OFFSET. Top is printed right after
// SELECT [DISTINCT], Suffix after ORDER BY.
type RowWindow struct {
	Top    string
	Suffix string
	// NeedsOrder reports that Suffix is only valid after an ORDER BY clause.
	NeedsOrder bool
}

var dialects = make(map[string]Dialect)

// RegisterDialect registers a database dialect by driver name.
func RegisterDialect(name string, d Dialect) {
	dialects[name] = d
}

// LookupDialect retrieves a registered dialect by driver name.
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialects[name]
	return d, ok
}

// GetDialect retrieves a registered dialect by driver name, panics if not found.
func GetDialect(name string) Dialect {
	if d, ok := LookupDialect(name); ok {
		return d
	}
	panic("unsupported dialect: " + name)
}

// Names returns the registered names in sorted order.
func Names() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// limitOffset renders the common "LIMIT n OFFSET m" form. noLimit stands in
// for LIMIT when only an offset is given, for engines that cannot express
// OFFSET alone.
func limitOffset(limit, offset, noLimit string) RowWindow {
	switch {
	case limit != "" && offset != "":
		return RowWindow{Suffix: "LIMIT " + limit + " OFFSET " + offset}
	case limit != "":
		return RowWindow{Suffix: "LIMIT " + limit}
	case offset != "" && noLimit != "":
		return RowWindow{Suffix: "LIMIT " + noLimit + " OFFSET " + offset}
	case offset != "":
		return RowWindow{Suffix: "OFFSET " + offset}
	}
	return RowWindow{}
}
