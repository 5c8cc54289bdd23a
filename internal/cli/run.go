package cli

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/qexp/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Fixtures string
	Params   []string
}

// QueryRows is the result of one executed query document.
type QueryRows struct {
	Name    string   `json:"name"`
	SQL     string   `json:"sql"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <queries.yaml>",
		Short: "Compile query documents and run them against SQLite",
		Long: `Compile every query document in a file and execute it against SQLite.

The database is created from the mapping (tables that already exist are
kept) and loaded with the rows of --fixtures, if given. Without --db the
database lives in memory for the duration of the command.

Example:
  qexp run -m mapping.yaml --fixtures people.yaml queries.yaml
  qexp run -m mapping.yaml --db ./people.db queries.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueries(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", ":memory:", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "YAML fixture rows to insert before running")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter value as name=value (repeatable)")

	return cmd
}

func runQueries(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	params, err := parseParams(opts.Params)
	if err != nil {
		return formatter.Fail(err)
	}
	sess, err := openSession(opts.RootOptions, logger)
	if err != nil {
		return formatter.Fail(err)
	}
	docs, err := loadQueries(path)
	if err != nil {
		return formatter.Fail(err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := prepareStore(ctx, opts, sess, logger)
	if err != nil {
		return formatter.Fail(err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	var results []QueryRows
	for i, doc := range docs {
		_, stmt, err := sess.compile(doc, bindParams(doc, params))
		if err != nil {
			return formatter.Fail(err)
		}
		formatter.VerboseLog("Running %s: %s", docName(doc, i), stmt.SQL)
		res, err := st.Execute(ctx, stmt)
		if err != nil {
			return formatter.Fail(&execError{sql: stmt.SQL, err: err})
		}
		rows := res.Rows
		if rows == nil {
			rows = [][]any{}
		}
		results = append(results, QueryRows{Name: docName(doc, i), SQL: stmt.SQL, Columns: res.Columns, Rows: rows})
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}
	for _, r := range results {
		fmt.Fprintf(formatter.Writer, "-- %s (%d row(s))\n", r.Name, len(r.Rows))
		tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
		for i, c := range r.Columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
		for _, row := range r.Rows {
			for i, v := range row {
				if i > 0 {
					fmt.Fprint(tw, "\t")
				}
				if v == nil {
					v = "NULL"
				}
				fmt.Fprint(tw, v)
			}
			fmt.Fprintln(tw)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// prepareStore opens the database, creates the mapping's tables and loads
// the fixtures.
func prepareStore(ctx context.Context, opts *RunOptions, sess *session, logger *slog.Logger) (*store.Store, error) {
	if sess.dict.Name != "sqlite" {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("run executes against SQLite; dialect %q cannot be run", sess.dict.Name))
	}
	st, err := store.Open(opts.Database, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := st.CreateSchema(ctx, sess.repo); err != nil {
		st.Close()
		return nil, err
	}
	if opts.Fixtures != "" {
		fx, err := store.LoadFixtureFile(opts.Fixtures)
		if err != nil {
			st.Close()
			return nil, &fileError{Path: opts.Fixtures, Err: err}
		}
		if err := st.Insert(ctx, fx); err != nil {
			st.Close()
			return nil, &fileError{Path: opts.Fixtures, Err: err}
		}
	}
	return st, nil
}
