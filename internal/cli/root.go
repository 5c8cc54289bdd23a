package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/kernel"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	Mapping string
	Dialect string
	Cache   string // "none" | "joins" | "full"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the qexp CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "qexp",
		Short: "qexp - query expressions to SQL",
		Long: `Compile object query expressions into SQL.

Queries are YAML documents over a mapping of classes onto tables. qexp
compiles them for a SQL dialect, runs them against SQLite, or evaluates
their filters against objects in memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := prepare(cmd, opts); err != nil {
				_ = newFormatter(opts, cmd).Error(ErrCodeGeneric, err.Error(), nil)
				return err
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Config, "config", "", "YAML config file; flags override its values")
	flags.StringVarP(&opts.Mapping, "mapping", "m", "", "mapping file (.yaml or .cue)")
	flags.StringVarP(&opts.Dialect, "dialect", "d", dialect.DefaultName, "SQL dialect")
	flags.StringVar(&opts.Cache, "cache", "full", "constructor cache level (none|joins|full)")

	// Add subcommands
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDialectsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// prepare applies the config file and checks the global flags.
func prepare(cmd *cobra.Command, opts *RootOptions) error {
	if opts.Config != "" {
		cfg, err := LoadConfig(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg.apply(cmd, opts)
	}
	if !isValidFormat(opts.Format) {
		bad := opts.Format
		opts.Format = "text"
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", bad, ValidFormats))
	}
	if _, err := kernel.ParseCacheLevel(opts.Cache); err != nil {
		return WrapExitError(ExitCommandError, "invalid --cache", err)
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger returns the logger commands hand to the packages they drive.
// Only warnings are shown unless --verbose is set.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
