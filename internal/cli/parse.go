package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
	"github.com/roach88/storyflow/internal/syntax"
)

// ParseResult is the JSON payload of the parse command. Exactly one of
// Assignments and Condition is set, and neither when the text is
// malformed.
type ParseResult struct {
	Mode        string            `json:"mode"`
	Tree        string            `json:"tree"`
	Assignments []ir.Assignment   `json:"assignments,omitempty"`
	Condition   *ir.Condition     `json:"condition,omitempty"`
	Diagnostics []lang.Diagnostic `json:"diagnostics,omitempty"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse [text]",
		Short: "Show the syntax tree and structured form of text",
		Long: `Parse text and print its syntax tree, one node per line with its
byte span. Malformed regions appear as error nodes; the parser never
gives up on the rest of the text.

With --format json the structured form (assignments or condition) is
included when the text parses cleanly.

Examples:
  storyflow parse 'mc.health -= 1'
  storyflow parse --mode expression --format json 'mc.health > 0'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, cmd, args)
		},
	}

	addModeFlag(cmd, opts)

	return cmd
}

func runParse(opts *TextOptions, cmd *cobra.Command, args []string) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	mode, text, err := readText(opts, cmd, args)
	if err != nil {
		return err
	}

	tree := lang.Dump(mode, text)
	if opts.Format != "json" {
		fmt.Fprint(formatter.Writer, tree)
		return nil
	}

	result := ParseResult{Mode: mode.String(), Tree: tree}
	switch mode {
	case syntax.ModeExpression:
		if cond, err := lang.ParseCondition(text); err == nil {
			result.Condition = &cond
		}
	default:
		if as, err := lang.ParseAssignments(text); err == nil {
			result.Assignments = as
		}
	}
	if result.Condition == nil && result.Assignments == nil {
		for _, d := range lang.Lint(mode, text, nil) {
			if d.Severity == lang.SeverityError {
				result.Diagnostics = append(result.Diagnostics, d)
			}
		}
	}
	return formatter.Success(result)
}
