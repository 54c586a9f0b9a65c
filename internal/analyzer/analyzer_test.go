package analyzer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// TestParseSQLitePlan tests reading EXPLAIN QUERY PLAN detail lines.
func TestParseSQLitePlan(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Access
	}{
		{"scan", "SCAN c", []Access{{Table: "c", Method: Scan}}},
		{"index", "SEARCH o USING INDEX orders_customer (customer_id=?)", []Access{{Table: "o", Method: IndexSeek, Index: "orders_customer"}}},
		{"primary key", "SEARCH c USING INTEGER PRIMARY KEY (rowid=?)", []Access{{Table: "c", Method: PrimaryKey}}},
		{"covering", "SEARCH c USING COVERING INDEX customers_city (city=?)", []Access{{Table: "c", Method: Covering, Index: "customers_city"}}},
		{"automatic", "SEARCH o USING AUTOMATIC COVERING INDEX (customer_id=?)", []Access{{Table: "o", Method: Automatic}}},
		{"temp b-tree", "USE TEMP B-TREE FOR ORDER BY", []Access{}},
		{"constant row", "SCAN CONSTANT ROW", []Access{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := parseSQLitePlan([]string{tt.line})
			assert.Equal(t, "sqlite", plan.Database)
			assert.Equal(t, tt.want, plan.Accesses)
			assert.Equal(t, tt.line, plan.Raw)
		})
	}
}

// TestParsePostgresPlan tests reading EXPLAIN (FORMAT JSON) output.
func TestParsePostgresPlan(t *testing.T) {
	raw := `[{
		"Plan": {
			"Node Type": "Nested Loop",
			"Total Cost": 25.67,
			"Plan Rows": 10,
			"Actual Rows": 4,
			"Actual Loops": 1,
			"Plans": [
				{"Node Type": "Index Scan", "Relation Name": "customers", "Alias": "c", "Index Name": "customers_pkey", "Plan Rows": 1, "Shared Hit Blocks": 3},
				{"Node Type": "Seq Scan", "Relation Name": "orders", "Alias": "o", "Plan Rows": 10, "Shared Read Blocks": 2},
				{"Node Type": "Bitmap Heap Scan", "Relation Name": "lines", "Alias": "l", "Plan Rows": 5,
					"Plans": [{"Node Type": "Bitmap Index Scan", "Index Name": "lines_order"}]},
				{"Node Type": "Index Only Scan", "Relation Name": "tags", "Index Name": "tags_name", "Plan Rows": 2}
			]
		},
		"Execution Time": 0.5
	}]`
	plan, err := parsePostgresPlan(raw)
	require.NoError(t, err)
	assert.Equal(t, "postgres", plan.Database)
	assert.InDelta(t, 25.67, plan.Cost, 1e-9)
	assert.Equal(t, int64(10), plan.EstimatedRows)
	assert.Equal(t, []Access{
		{Table: "c", Method: PrimaryKey, Index: "customers_pkey", Rows: 1},
		{Table: "o", Method: Scan, Rows: 10},
		{Table: "l", Method: IndexSeek, Index: "lines_order", Rows: 5},
		{Table: "tags", Method: Covering, Index: "tags_name", Rows: 2},
	}, plan.Accesses)
	assert.Equal(t, int64(4), plan.ActualRows)
	assert.Equal(t, 500*time.Microsecond, plan.ActualTime)
	assert.Equal(t, int64(3), plan.BuffersHit)
	assert.Equal(t, int64(2), plan.BuffersRead)
	assert.Equal(t, []string{"o"}, plan.FullScans())
	assert.True(t, plan.UsesIndex())

	_, err = parsePostgresPlan(`[]`)
	assert.Error(t, err)
	_, err = parsePostgresPlan(`{`)
	assert.Error(t, err)
}

// TestParseMySQLPlan tests reading EXPLAIN FORMAT=JSON output.
func TestParseMySQLPlan(t *testing.T) {
	raw := `{
		"query_block": {
			"select_id": 1,
			"cost_info": {"query_cost": "12.75"},
			"ordering_operation": {
				"using_filesort": true,
				"nested_loop": [
					{"table": {"table_name": "c", "access_type": "ALL", "rows_examined_per_scan": 3}},
					{"table": {"table_name": "o", "access_type": "ref", "key": "orders_customer", "rows_examined_per_scan": 2}},
					{"table": {"table_name": "l", "access_type": "eq_ref", "key": "PRIMARY", "rows_examined_per_scan": 1}},
					{"table": {"table_name": "t", "access_type": "ref", "key": "<auto_key0>", "rows_examined_per_scan": 2,
						"materialized_from_subquery": {"query_block": {"table": {"table_name": "orders", "access_type": "index", "key": "orders_total", "using_index": true, "rows_examined_per_scan": 3}}}}}
				]
			}
		}
	}`
	plan, err := parseMySQLPlan(raw)
	require.NoError(t, err)
	assert.Equal(t, "mysql", plan.Database)
	assert.InDelta(t, 12.75, plan.Cost, 1e-9)
	assert.Equal(t, []Access{
		{Table: "c", Method: Scan, Rows: 3},
		{Table: "o", Method: IndexSeek, Index: "orders_customer", Rows: 2},
		{Table: "l", Method: PrimaryKey, Index: "PRIMARY", Rows: 1},
		{Table: "t", Method: Automatic, Index: "<auto_key0>", Rows: 2},
		{Table: "orders", Method: Covering, Index: "orders_total", Rows: 3},
	}, plan.Accesses)
	assert.Equal(t, int64(11), plan.EstimatedRows)
	assert.Equal(t, []string{"c"}, plan.FullScans())

	_, err = parseMySQLPlan(`[`)
	assert.Error(t, err)
}

// TestFor tests the dialect lookup.
func TestFor(t *testing.T) {
	for _, name := range []string{"postgres", "mysql", "sqlite"} {
		_, err := For(name)
		assert.NoError(t, err, name)
	}
	_, err := For("sqlserver")
	assert.ErrorIs(t, err, ErrUnsupported)
}

// TestPlan_Empty tests the helpers on a plan without accesses.
func TestPlan_Empty(t *testing.T) {
	plan := &Plan{}
	assert.Nil(t, plan.FullScans())
	assert.False(t, plan.UsesIndex())
}

// TestSQLiteAnalyzer_Explain tests plans read from a live database.
func TestSQLiteAnalyzer_Explain(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	for _, stmt := range []string{
		"CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)",
		"CREATE INDEX customers_city ON customers (city)",
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	a, err := For("sqlite")
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name   string
		query  string
		method Method
		index  string
	}{
		{"full scan", "SELECT id, name FROM customers WHERE name = ?", Scan, ""},
		{"primary key", "SELECT name FROM customers WHERE id = ?", PrimaryKey, ""},
		{"index", "SELECT name FROM customers WHERE city = ?", IndexSeek, "customers_city"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := a.Explain(ctx, db, tt.query, []any{"x"}, false)
			require.NoError(t, err)
			require.Len(t, plan.Accesses, 1, plan.Raw)
			assert.Equal(t, tt.method, plan.Accesses[0].Method)
			assert.Equal(t, tt.index, plan.Accesses[0].Index)
		})
	}

	_, err = a.Explain(ctx, db, "SELECT 1", nil, true)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = a.Explain(ctx, db, "SELECT * FROM nope", nil, false)
	assert.Error(t, err)
}
