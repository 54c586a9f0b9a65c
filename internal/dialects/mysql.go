package dialects

import "strings"

// MySQLDialect implements MySQL-specific SQL dialect.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string { return "mysql" }

// QuoteIdentifier quotes a MySQL identifier using backticks.
func (d *MySQLDialect) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Placeholder returns MySQL placeholder format (always "?").
func (d *MySQLDialect) Placeholder(_ int) string {
	return "?"
}

// mysqlMaxRows is the documented way to express "no limit" in MySQL.
const mysqlMaxRows = "18446744073709551615"

// RowWindow renders LIMIT/OFFSET. MySQL has no standalone OFFSET.
func (d *MySQLDialect) RowWindow(limit, offset string) RowWindow {
	return limitOffset(limit, offset, mysqlMaxRows)
}

func init() {
	RegisterDialect("mysql", &MySQLDialect{})
}
