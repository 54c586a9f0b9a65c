package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/exec"
	"github.com/coregx/relq/internal/scenario"
	"github.com/coregx/relq/internal/security"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Params  map[string]string
	NoSetup bool
	Audit   bool
	Timeout time.Duration
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	SQL     string `json:"sql"`
	Records []any  `json:"records"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against a database",
		Long: `Execute the setup statements of a scenario, run its query and print the
records read back from the rows.

Parameters declared in the scenario can be overridden with --param.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringToStringVarP(&opts.Params, "param", "p", nil, "query parameter (name=value)")
	cmd.Flags().BoolVar(&opts.NoSetup, "no-setup", false, "skip the scenario's setup statements")
	cmd.Flags().BoolVar(&opts.Audit, "audit", false, "write an audit record of the execution to stderr")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "execution timeout")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	p, err := prepare(ctx, cmd, opts, path)
	if err != nil {
		return out.Error(err.exitCode, err.code, err.err)
	}
	defer p.db.Close()

	records, qerr := p.db.Query(ctx, p.query, p.params)
	if qerr != nil {
		return out.Error(ExitFailure, ErrCodeDatabase, qerr)
	}
	return out.Success(RunResult{SQL: p.query.SQL, Records: records}, formatRecords(records))
}

// prepared is a compiled scenario on an open, seeded database.
type prepared struct {
	db     *exec.DB
	query  *exec.CompiledQuery
	params map[string]any
}

// stepError is a failed preparation step with the codes it reports.
type stepError struct {
	exitCode int
	code     string
	err      error
}

// prepare opens the database, runs the setup statements of the scenario at
// path and compiles its query. The caller closes p.db.
func prepare(ctx context.Context, cmd *cobra.Command, opts *RunOptions, path string) (*prepared, *stepError) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, &stepError{exitCodeOf(err), errorCode(err), err}
	}

	dbOpts := []exec.Option{
		exec.WithLogger(opts.logger(cmd)),
		exec.WithParamValidator(security.NewValidator()),
	}
	if opts.Dialect != "" {
		d, err := opts.dialect()
		if err != nil {
			return nil, &stepError{ExitCommandError, ErrCodeGeneric, err}
		}
		dbOpts = append(dbOpts, exec.WithDialect(d))
	}
	if strings.Contains(opts.DSN, ":memory:") {
		// every connection would see its own empty database
		dbOpts = append(dbOpts, exec.WithMaxOpenConns(1))
	}
	if opts.Audit {
		auditor := security.NewAuditor(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil)), security.AuditAll)
		dbOpts = append(dbOpts, exec.WithAuditor(auditor))
	}
	db, err := exec.Open(opts.Driver, opts.DSN, dbOpts...)
	if err != nil {
		return nil, &stepError{ExitCommandError, ErrCodeDatabase, err}
	}
	fail := func(serr *stepError) (*prepared, *stepError) {
		_ = db.Close()
		return nil, serr
	}

	if !opts.NoSetup {
		for i, stmt := range sc.Setup {
			if _, err := db.SQLDB().ExecContext(ctx, stmt); err != nil {
				return fail(&stepError{ExitFailure, ErrCodeDatabase, fmt.Errorf("setup statement %d: %w", i+1, err)})
			}
		}
	}

	s, sh, err := sc.Build(core.NewArena(
		core.WithLogger(opts.logger(cmd)),
		core.WithRawSQLValidator(security.NewValidator()),
	))
	if err != nil {
		return fail(&stepError{exitCodeOf(err), errorCode(err), err})
	}
	q, err := db.Compile(ctx, s, sh)
	if err != nil {
		return fail(&stepError{ExitFailure, errorCode(err), err})
	}

	params := maps.Clone(sc.Params)
	if params == nil {
		params = make(map[string]any, len(opts.Params))
	}
	for k, v := range opts.Params {
		params[k] = v
	}
	return &prepared{db: db, query: q, params: params}, nil
}

func formatRecords(records []any) string {
	var b strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			fmt.Fprintf(&b, "%v\n", r)
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%d records)", len(records))
	return b.String()
}
