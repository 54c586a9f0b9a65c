package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type postgresAnalyzer struct{}

func (postgresAnalyzer) Explain(ctx context.Context, q Querier, query string, args []any, analyze bool) (*Plan, error) {
	stmt := "EXPLAIN (FORMAT JSON) " + query
	if analyze {
		stmt = "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) " + query
	}
	raw, err := explainJSON(ctx, q, stmt, args)
	if err != nil {
		return nil, err
	}
	return parsePostgresPlan(raw)
}

type postgresRoot struct {
	Plan          postgresNode `json:"Plan"`
	ExecutionTime float64      `json:"Execution Time"` // ms
}

type postgresNode struct {
	NodeType         string         `json:"Node Type"`
	RelationName     string         `json:"Relation Name"`
	Alias            string         `json:"Alias"`
	IndexName        string         `json:"Index Name"`
	TotalCost        float64        `json:"Total Cost"`
	PlanRows         int64          `json:"Plan Rows"`
	ActualRows       int64          `json:"Actual Rows"`
	ActualLoops      int64          `json:"Actual Loops"`
	SharedHitBlocks  int64          `json:"Shared Hit Blocks"`
	SharedReadBlocks int64          `json:"Shared Read Blocks"`
	Plans            []postgresNode `json:"Plans"`
}

func parsePostgresPlan(raw string) (*Plan, error) {
	var roots []postgresRoot
	if err := json.Unmarshal([]byte(raw), &roots); err != nil {
		return nil, fmt.Errorf("explain: decode plan: %w", err)
	}
	if len(roots) == 0 {
		return nil, errors.New("explain: no plan returned")
	}
	root := roots[0]
	plan := &Plan{
		Database:      "postgres",
		Cost:          root.Plan.TotalCost,
		EstimatedRows: root.Plan.PlanRows,
		Accesses:      []Access{},
		Raw:           raw,
	}
	if root.ExecutionTime > 0 {
		plan.ActualTime = time.Duration(root.ExecutionTime * float64(time.Millisecond))
		plan.ActualRows = root.Plan.ActualRows * max(root.Plan.ActualLoops, 1)
	}
	walkPostgres(&root.Plan, plan)
	return plan, nil
}

func walkPostgres(n *postgresNode, plan *Plan) {
	plan.BuffersHit += n.SharedHitBlocks
	plan.BuffersRead += n.SharedReadBlocks

	if n.RelationName != "" {
		a := Access{Table: n.RelationName, Method: Scan, Index: n.IndexName, Rows: n.PlanRows}
		if n.Alias != "" {
			a.Table = n.Alias
		}
		switch {
		case n.NodeType == "Index Only Scan":
			a.Method = Covering
		case strings.Contains(n.NodeType, "Index Scan"), n.NodeType == "Bitmap Heap Scan":
			a.Method = IndexSeek
			if strings.HasSuffix(a.Index, "_pkey") {
				a.Method = PrimaryKey
			}
		}
		if a.Method == IndexSeek && a.Index == "" {
			// a bitmap heap scan names its index on the child node
			for _, c := range n.Plans {
				if c.NodeType == "Bitmap Index Scan" {
					a.Index = c.IndexName
					break
				}
			}
		}
		plan.Accesses = append(plan.Accesses, a)
	}
	for i := range n.Plans {
		walkPostgres(&n.Plans[i], plan)
	}
}
