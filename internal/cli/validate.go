package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/querydoc"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	Entities    int               `json:"entities"`
	Embeddables int               `json:"embeddables"`
	Queries     int               `json:"queries"`
	Errors      []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in a mapping or query file.
type ValidationIssue struct {
	File    string `json:"file"`
	Query   string `json:"query,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [mapping] [queries.yaml...]",
		Short: "Check a mapping and query files without compiling SQL",
		Long: `Load a mapping and translate every query document against it.

The mapping is --mapping, or the first argument when no mapping is
configured. Every query document is translated and checked; problems in one
document do not stop the others from being checked.

Example:
  qexp validate mapping.cue queries.yaml
  qexp validate -m mapping.yaml queries.yaml more.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	mappingPath := opts.Mapping
	if mappingPath == "" && len(args) > 0 {
		mappingPath, args = args[0], args[1:]
	}
	if mappingPath == "" {
		return formatter.Fail(NewExitError(ExitCommandError, "a mapping file is required (argument, --mapping or config)"))
	}

	repo, err := mapping.LoadFile(mappingPath)
	if err != nil {
		var le *mapping.LoadError
		if !errors.As(err, &le) || !le.Pos.IsValid() {
			return formatter.Fail(err)
		}
		return outputValidation(formatter, &ValidationResult{
			Errors: []ValidationIssue{{
				File:    le.Pos.Filename(),
				Code:    ErrCodeLoadFailed,
				Message: le.Message,
				Line:    le.Pos.Line(),
				Column:  le.Pos.Column(),
			}},
		})
	}

	result := &ValidationResult{}
	for _, c := range repo.Classes() {
		if c.Embeddable {
			result.Embeddables++
		} else {
			result.Entities++
		}
	}
	formatter.VerboseLog("Loaded %s: %d entities, %d embeddables", mappingPath, result.Entities, result.Embeddables)

	translator := querydoc.NewTranslator(repo)
	for _, path := range args {
		docs, err := loadQueries(path)
		if err != nil {
			code, _, _ := classify(err)
			result.Errors = append(result.Errors, ValidationIssue{File: path, Code: code, Message: err.Error()})
			continue
		}
		for i, doc := range docs {
			result.Queries++
			formatter.VerboseLog("Validating %s %s", path, docName(doc, i))
			if _, err := translator.Query(doc); err != nil {
				issue := ValidationIssue{File: path, Query: docName(doc, i), Code: ErrCodeGeneric, Message: err.Error()}
				if code := qerr.CodeOf(err); code != "" {
					issue.Code = string(code)
				}
				result.Errors = append(result.Errors, issue)
			}
		}
	}

	return outputValidation(formatter, result)
}

func outputValidation(formatter *OutputFormatter, result *ValidationResult) error {
	result.Valid = len(result.Errors) == 0

	if formatter.Format == "json" {
		if result.Valid {
			return formatter.Success(result)
		}
		if err := formatter.Error(ErrCodeLoadFailed, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)), result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	if result.Valid {
		fmt.Fprintf(formatter.Writer, "✓ Mapping valid: %d entities, %d embeddables\n", result.Entities, result.Embeddables)
		if result.Queries > 0 {
			fmt.Fprintf(formatter.Writer, "✓ %d query document(s) valid\n", result.Queries)
		}
		return nil
	}

	fmt.Fprintf(formatter.Writer, "✗ Validation failed with %d error(s):\n\n", len(result.Errors))
	for _, e := range result.Errors {
		loc := e.File
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
		}
		if e.Query != "" {
			loc += " (" + e.Query + ")"
		}
		fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", e.Code, loc, e.Message)
	}
	return NewExitError(ExitFailure, "validation failed")
}
