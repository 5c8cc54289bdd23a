package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/qexp/internal/inmem"
	"github.com/roach88/qexp/internal/querydoc"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Objects string
	Params  []string
}

// Evaluated is the result of one query document's filter over the objects.
type Evaluated struct {
	Name    string           `json:"name"`
	Source  string           `json:"source"`
	Matched []map[string]any `json:"matched"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Evaluate query filters against objects in memory",
		Long: `Evaluate the filter of every query document against a list of objects.

Objects are YAML maps keyed by field name. Related entities are nested
maps and collections are lists. Only the filter is applied; constructs
that need a database, such as subqueries and aggregates, are rejected.

Example:
  qexp eval -m mapping.yaml --objects people.yaml queries.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Objects, "objects", "", "YAML list of candidate objects (required)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter value as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("objects")

	return cmd
}

func runEval(opts *EvalOptions, path string, cmd *cobra.Command) error {
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
	objs, err := loadObjects(opts.Objects)
	if err != nil {
		return formatter.Fail(err)
	}

	translator := querydoc.NewTranslator(sess.repo)
	var results []Evaluated
	for i, doc := range docs {
		q, err := translator.Query(doc)
		if err != nil {
			return formatter.Fail(err)
		}
		f, err := inmem.New(q.Candidate, q.Alias, q.Filter, inmem.WithLogger(logger))
		if err != nil {
			return formatter.Fail(err)
		}
		formatter.VerboseLog("%s: %s", docName(doc, i), f.Source())
		matched, err := f.Select(objs, bindParams(doc, params))
		if err != nil {
			return formatter.Fail(err)
		}
		results = append(results, Evaluated{Name: docName(doc, i), Source: f.Source(), Matched: matched})
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}
	for _, r := range results {
		fmt.Fprintf(formatter.Writer, "-- %s (%d of %d matched)\n", r.Name, len(r.Matched), len(objs))
		for _, obj := range r.Matched {
			line, err := json.Marshal(obj)
			if err != nil {
				return formatter.Fail(err)
			}
			fmt.Fprintln(formatter.Writer, string(line))
		}
	}
	return nil
}

// loadObjects reads a YAML list of objects.
func loadObjects(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fileError{Path: path, Err: err}
	}
	var objs []map[string]any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&objs); err != nil && !errors.Is(err, io.EOF) {
		return nil, &fileError{Path: path, Err: fmt.Errorf("parse objects %s: %w", path, err)}
	}
	return objs, nil
}
