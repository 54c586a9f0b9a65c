// Package cli implements the relq command line: it compiles scenario files
// to SQL and runs them against a database.
package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Dialect string
	Driver  string
	DSN     string
	Config  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Flags may also be set in a
// config file (--config) or through RELQ_* environment variables.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "relq",
		Short: "relq - relational query composer",
		Long: `Compile scenario files into a single SQL statement per dialect and run
them against a database, reading the rows back into nested records.

Settings are resolved in this order: flags, RELQ_* environment variables,
the file named by --config.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := opts.load(v); err != nil {
				return WrapExitError(ExitCommandError, "loading config", err)
			}
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if _, ok := dialects.LookupDialect(opts.Dialect); opts.Dialect != "" && !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown dialect %q: must be one of %v", opts.Dialect, dialects.Names()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Dialect, "dialect", "", "SQL dialect (defaults to the driver's)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "sqlite", "database/sql driver name")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", ":memory:", "data source name")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewDialectsCommand(opts))

	return cmd
}

func (o *RootOptions) load(v *viper.Viper) error {
	v.SetEnvPrefix("RELQ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	o.Dialect = v.GetString("dialect")
	o.Driver = v.GetString("driver")
	o.DSN = v.GetString("dsn")
	return nil
}

// dialect returns the configured dialect, falling back to the driver's.
func (o *RootOptions) dialect() (dialects.Dialect, error) {
	name := o.Dialect
	if name == "" {
		name = o.Driver
	}
	d, ok := dialects.LookupDialect(name)
	if !ok {
		return nil, fmt.Errorf("no dialect for %q: set --dialect to one of %v", name, dialects.Names())
	}
	return d, nil
}

// logger returns a debug-level logrus logger on errOut when verbose.
func (o *RootOptions) logger(cmd *cobra.Command) logger.Logger {
	if !o.Verbose {
		return &logger.NoopLogger{}
	}
	l := logrus.New()
	l.SetOutput(cmd.ErrOrStderr())
	l.SetLevel(logrus.DebugLevel)
	if o.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger.NewLogrusAdapter(l)
}
