package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/qexp/internal/dialect"
)

// DialectInfo describes one built-in dialect.
type DialectInfo struct {
	Name                        string            `json:"name"`
	Description                 string            `json:"description"`
	JoinSyntax                  string            `json:"join_syntax"`
	Range                       string            `json:"range"`
	SupportsSubselect           bool              `json:"subselect"`
	SupportsCorrelatedSubselect bool              `json:"correlated_subselect"`
	Placeholder                 string            `json:"placeholder"`
	Functions                   map[string]string `json:"functions,omitempty"`
}

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dialects [name]",
		Short: "List the built-in SQL dialects",
		Long: `List the built-in SQL dialects and what they support.

With a name, the dialect's function templates are listed too.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDialects(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runDialects(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	names := dialect.Names()
	if len(args) == 1 {
		names = args[:1]
	}
	var infos []DialectInfo
	for _, name := range names {
		d, err := dialect.Lookup(name)
		if err != nil {
			return formatter.Fail(err)
		}
		info := DialectInfo{
			Name:                        d.Name,
			Description:                 d.Description,
			JoinSyntax:                  d.JoinSyntax.String(),
			Range:                       d.RangeStyle.String(),
			SupportsSubselect:           d.SupportsSubselect,
			SupportsCorrelatedSubselect: d.SupportsCorrelatedSubselect,
			Placeholder:                 d.Placeholder,
		}
		if info.Placeholder == "" {
			info.Placeholder = "?"
		}
		if len(args) == 1 {
			info.Functions = d.Functions()
		}
		infos = append(infos, info)
	}

	if formatter.Format == "json" {
		return formatter.Success(infos)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tJOINS\tRANGE\tSUBSELECT\tPLACEHOLDER\tDESCRIPTION")
	for _, d := range infos {
		sub := "no"
		switch {
		case d.SupportsCorrelatedSubselect:
			sub = "correlated"
		case d.SupportsSubselect:
			sub = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Name, d.JoinSyntax, d.Range, sub, d.Placeholder, d.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(args) == 1 {
		fmt.Fprintln(formatter.Writer)
		tw = tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
		for _, name := range sortedNames(infos[0].Functions) {
			fmt.Fprintf(tw, "%s\t%s\n", name, infos[0].Functions[name])
		}
		return tw.Flush()
	}
	return nil
}
