package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Inline bool
	Params []string
}

// CompiledQuery is one compiled query document.
type CompiledQuery struct {
	Name   string `json:"name"`
	Query  string `json:"query"`
	SQL    string `json:"sql"`
	Args   []any  `json:"args"`
	Inline string `json:"inline,omitempty"`
	Cache  string `json:"cache"`
	Shape  string `json:"shape"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <queries.yaml>",
		Short: "Compile query documents to SQL",
		Long: `Compile every query document in a file to SQL for the selected dialect.

Parameters are bound from each document's params and from --param flags,
which win. The statement is printed with its bind arguments, or with the
arguments written inline when --inline is set.

Example:
  qexp compile -m mapping.yaml queries.yaml
  qexp compile -m mapping.cue -d postgres --param min=30 --inline queries.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Inline, "inline", false, "write bind arguments as literals")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter value as name=value (repeatable)")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	params, err := parseParams(opts.Params)
	if err != nil {
		return formatter.Fail(err)
	}
	sess, err := openSession(opts.RootOptions, newLogger(opts.RootOptions, formatter.GetErrWriter()))
	if err != nil {
		return formatter.Fail(err)
	}
	docs, err := loadQueries(path)
	if err != nil {
		return formatter.Fail(err)
	}
	formatter.VerboseLog("Compiling %d query document(s) for dialect %s", len(docs), sess.dict.Name)

	var results []CompiledQuery
	for i, doc := range docs {
		q, st, err := sess.compile(doc, bindParams(doc, params))
		if err != nil {
			return formatter.Fail(err)
		}
		shape, err := q.Fingerprint()
		if err != nil {
			return formatter.Fail(err)
		}
		res := CompiledQuery{
			Name:  docName(doc, i),
			Query: q.String(),
			SQL:   st.SQL,
			Args:  st.Args,
			Cache: st.Level.String(),
			Shape: shape,
		}
		if res.Args == nil {
			res.Args = []any{}
		}
		if opts.Inline {
			if res.Inline, err = st.Inline(); err != nil {
				return formatter.Fail(err)
			}
		}
		results = append(results, res)
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}
	for _, r := range results {
		fmt.Fprintf(formatter.Writer, "-- %s\n", r.Name)
		formatter.VerboseLog("%s: %s (cache %s, shape %.12s)", r.Name, r.Query, r.Cache, r.Shape)
		if opts.Inline {
			fmt.Fprintln(formatter.Writer, r.Inline)
			continue
		}
		fmt.Fprintln(formatter.Writer, r.SQL)
		if len(r.Args) > 0 {
			fmt.Fprintf(formatter.Writer, "-- args: %s\n", formatArgs(r.Args))
		}
	}
	return nil
}

// formatArgs writes bind arguments in slot order, quoting strings.
func formatArgs(args []any) string {
	s := ""
	for i, a := range args {
		if i > 0 {
			s += ", "
		}
		switch a.(type) {
		case string:
			s += fmt.Sprintf("%q", a)
		default:
			s += fmt.Sprintf("%v", a)
		}
	}
	return "[" + s + "]"
}
