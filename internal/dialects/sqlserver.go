package dialects

import (
	"fmt"
	"strings"
)

// SQLServerDialect implements the Transact-SQL dialect.
type SQLServerDialect struct{}

func init() {
	RegisterDialect("sqlserver", &SQLServerDialect{})
	RegisterDialect("mssql", &SQLServerDialect{})
}

func (d *SQLServerDialect) Name() string { return "sqlserver" }

// QuoteIdentifier quotes an identifier using square brackets.
func (d *SQLServerDialect) QuoteIdentifier(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// Placeholder returns named placeholders (@p1, @p2, etc.).
func (d *SQLServerDialect) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// RowWindow renders TOP(n) for a bare limit and OFFSET ... FETCH otherwise.
func (d *SQLServerDialect) RowWindow(limit, offset string) RowWindow {
	switch {
	case offset == "" && limit != "":
		return RowWindow{Top: "TOP(" + limit + ")"}
	case offset != "" && limit != "":
		return RowWindow{Suffix: "OFFSET " + offset + " ROWS FETCH NEXT " + limit + " ROWS ONLY", NeedsOrder: true}
	case offset != "":
		return RowWindow{Suffix: "OFFSET " + offset + " ROWS", NeedsOrder: true}
	}
	return RowWindow{}
}
