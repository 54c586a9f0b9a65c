package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
)

type mysqlAnalyzer struct{}

// Explain runs EXPLAIN FORMAT=JSON. MySQL prints EXPLAIN ANALYZE only as a
// text tree, which has no reader here.
func (mysqlAnalyzer) Explain(ctx context.Context, q Querier, query string, args []any, analyze bool) (*Plan, error) {
	if analyze {
		return nil, fmt.Errorf("%w: mysql EXPLAIN ANALYZE has no JSON form", ErrUnsupported)
	}
	raw, err := explainJSON(ctx, q, "EXPLAIN FORMAT=JSON "+query, args)
	if err != nil {
		return nil, err
	}
	return parseMySQLPlan(raw)
}

type mysqlRoot struct {
	QueryBlock mysqlBlock `json:"query_block"`
}

// mysqlBlock is a query block or one of the operations nested in it.
// Costs are reported as strings.
type mysqlBlock struct {
	CostInfo   mysqlCost    `json:"cost_info"`
	Table      *mysqlTable  `json:"table"`
	NestedLoop []mysqlBlock `json:"nested_loop"`
	Grouping   *mysqlBlock  `json:"grouping_operation"`
	Ordering   *mysqlBlock  `json:"ordering_operation"`
	Duplicates *mysqlBlock  `json:"duplicates_removal"`
	Union      *struct {
		QuerySpecifications []mysqlRoot `json:"query_specifications"`
	} `json:"union_result"`
}

type mysqlCost struct {
	QueryCost any `json:"query_cost"`
}

type mysqlTable struct {
	TableName    string `json:"table_name"`
	AccessType   string `json:"access_type"`
	Key          string `json:"key"`
	UsingIndex   bool   `json:"using_index"`
	RowsExamined any    `json:"rows_examined_per_scan"`
	Materialized *struct {
		QueryBlock mysqlBlock `json:"query_block"`
	} `json:"materialized_from_subquery"`
}

func parseMySQLPlan(raw string) (*Plan, error) {
	var root mysqlRoot
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return nil, fmt.Errorf("explain: decode plan: %w", err)
	}
	plan := &Plan{Database: "mysql", Accesses: []Access{}, Raw: raw}
	plan.Cost = cast.ToFloat64(root.QueryBlock.CostInfo.QueryCost)
	walkMySQL(&root.QueryBlock, plan)
	return plan, nil
}

func walkMySQL(b *mysqlBlock, plan *Plan) {
	if b == nil {
		return
	}
	if t := b.Table; t != nil {
		a := Access{Table: t.TableName, Index: t.Key, Rows: cast.ToInt64(t.RowsExamined)}
		switch {
		case t.AccessType == "ALL":
			a.Method = Scan
		case t.Key == "<auto_key0>":
			a.Method = Automatic
		case t.Key == "PRIMARY":
			a.Method = PrimaryKey
		case t.AccessType == "index" || t.UsingIndex:
			a.Method = Covering
		case t.Key != "":
			a.Method = IndexSeek
		default:
			a.Method = Scan
		}
		plan.Accesses = append(plan.Accesses, a)
		plan.EstimatedRows += a.Rows
		if t.Materialized != nil {
			walkMySQL(&t.Materialized.QueryBlock, plan)
		}
	}
	for i := range b.NestedLoop {
		walkMySQL(&b.NestedLoop[i], plan)
	}
	walkMySQL(b.Grouping, plan)
	walkMySQL(b.Ordering, plan)
	walkMySQL(b.Duplicates, plan)
	if b.Union != nil {
		for i := range b.Union.QuerySpecifications {
			walkMySQL(&b.Union.QuerySpecifications[i].QueryBlock, plan)
		}
	}
}
