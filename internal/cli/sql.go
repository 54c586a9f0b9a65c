package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/exec"
	"github.com/coregx/relq/internal/scenario"
	"github.com/coregx/relq/internal/security"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Shaper bool
}

// SQLResult is the JSON payload of the sql command.
type SQLResult struct {
	Dialect string   `json:"dialect"`
	SQL     string   `json:"sql"`
	Args    []any    `json:"args"`
	Params  []string `json:"params,omitempty"`
	Shaper  string   `json:"shaper,omitempty"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <scenario.yaml>",
		Short: "Print the SQL of a scenario",
		Long: `Replay the query of a scenario file onto a select builder, finalize it
and print the statement with its arguments for the selected dialect.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Shaper, "shaper", false, "also print the record shaper")

	return cmd
}

func runSQL(opts *SQLOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	d, err := opts.dialect()
	if err != nil {
		return out.Error(ExitCommandError, ErrCodeGeneric, err)
	}
	c, err := exec.NewCompiler(exec.WithDialect(d), exec.WithLogger(opts.logger(cmd)))
	if err != nil {
		return out.Error(ExitCommandError, ErrCodeGeneric, err)
	}
	q, err := compileScenario(cmd, opts.RootOptions, path, func(s *core.SelectExpression, sh core.Shaper) (*exec.CompiledQuery, error) {
		return c.Compile(cmd.Context(), s, sh)
	})
	if err != nil {
		return out.Error(exitCodeOf(err), errorCode(err), err)
	}

	res := SQLResult{Dialect: q.Dialect, SQL: q.SQL, Args: q.Args, Params: q.Params()}
	if opts.Shaper {
		res.Shaper = q.Shaper.String()
	}
	return out.Success(res, formatSQL(res))
}

// compileScenario loads the scenario at path and compiles its query.
func compileScenario(cmd *cobra.Command, opts *RootOptions, path string, compile func(*core.SelectExpression, core.Shaper) (*exec.CompiledQuery, error)) (*exec.CompiledQuery, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	arena := core.NewArena(
		core.WithLogger(opts.logger(cmd)),
		core.WithRawSQLValidator(security.NewValidator()),
	)
	s, sh, err := sc.Build(arena)
	if err != nil {
		return nil, err
	}
	return compile(s, sh)
}

func formatSQL(res SQLResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n%s\n", res.Dialect, res.SQL)
	if len(res.Args) > 0 {
		fmt.Fprintf(&b, "-- args: %v\n", res.Args)
	}
	if len(res.Params) > 0 {
		fmt.Fprintf(&b, "-- params: %s\n", strings.Join(res.Params, ", "))
	}
	if res.Shaper != "" {
		fmt.Fprintf(&b, "-- shaper: %s\n", res.Shaper)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, scenario.ErrInvalid):
		return ErrCodeScenario
	case core.IsUnsupported(err):
		return ErrCodeUnsupported
	case core.IsInvariantViolation(err):
		return ErrCodeInvariant
	}
	return ErrCodeGeneric
}

func exitCodeOf(err error) int {
	if errors.Is(err, scenario.ErrInvalid) || errors.Is(err, fs.ErrNotExist) {
		return ExitCommandError
	}
	return ExitFailure
}

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dialects",
		Short:         "List the registered SQL dialects",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			names := dialects.Names()
			return out.Success(names, strings.Join(names, "\n"))
		},
	}
}
