package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coregx/relq/internal/analyzer"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	RunOptions
	Analyze bool
}

// ExplainResult is the JSON payload of the explain command.
type ExplainResult struct {
	SQL  string         `json:"sql"`
	Plan *analyzer.Plan `json:"plan"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RunOptions: RunOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "explain <scenario.yaml>",
		Short: "Show the database plan of a scenario",
		Long: `Execute the setup statements of a scenario and print how the database
plans to read each table of its query.

With --analyze the query is executed by the database and actual figures
are reported (PostgreSQL only).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringToStringVarP(&opts.Params, "param", "p", nil, "query parameter (name=value)")
	cmd.Flags().BoolVar(&opts.NoSetup, "no-setup", false, "skip the scenario's setup statements")
	cmd.Flags().BoolVar(&opts.Analyze, "analyze", false, "execute the query and report actual figures")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "execution timeout")

	return cmd
}

func runExplain(opts *ExplainOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	p, serr := prepare(ctx, cmd, &opts.RunOptions, path)
	if serr != nil {
		return out.Error(serr.exitCode, serr.code, serr.err)
	}
	defer p.db.Close()

	plan, err := p.db.Explain(ctx, p.query, p.params, opts.Analyze)
	if err != nil {
		if errors.Is(err, analyzer.ErrUnsupported) {
			return out.Error(ExitCommandError, ErrCodeUnsupported, err)
		}
		return out.Error(ExitFailure, ErrCodeDatabase, err)
	}
	return out.Success(ExplainResult{SQL: p.query.SQL, Plan: plan}, formatPlan(plan))
}

func formatPlan(plan *analyzer.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s", plan.Database)
	if plan.Cost > 0 {
		fmt.Fprintf(&b, " cost=%.2f rows=%d", plan.Cost, plan.EstimatedRows)
	}
	if plan.ActualTime > 0 {
		fmt.Fprintf(&b, " actual_rows=%d time=%s", plan.ActualRows, plan.ActualTime)
	}
	for _, a := range plan.Accesses {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-12s %s", a.Method, a.Table)
		if a.Index != "" {
			fmt.Fprintf(&b, " (%s)", a.Index)
		}
	}
	if scans := plan.FullScans(); len(scans) > 0 {
		fmt.Fprintf(&b, "\n-- full scans: %s", strings.Join(scans, ", "))
	}
	return b.String()
}
