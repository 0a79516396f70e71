package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
	"github.com/roach88/storyflow/internal/syntax"
)

// TextOptions holds the flags shared by the commands that take story
// language text.
type TextOptions struct {
	*RootOptions
	Mode string
}

// LintOptions holds flags for the lint command.
type LintOptions struct {
	TextOptions
	Project string
}

// LintResult is the JSON payload of the lint command.
type LintResult struct {
	Mode        string            `json:"mode"`
	Valid       bool              `json:"valid"`
	Diagnostics []lang.Diagnostic `json:"diagnostics"`
}

// NewLintCommand creates the lint command.
func NewLintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LintOptions{TextOptions: TextOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "lint [text]",
		Short: "Report problems in condition or instruction text",
		Long: `Parse condition or instruction text and report syntax errors,
unknown functions and references to undeclared variables.

Text is read from the argument, or from stdin when no argument is given.
With --project, references are checked against the project's sheets;
without it every referenced variable is assumed to exist.

Exit codes:
  0 - No errors (warnings may be present)
  1 - The text has syntax errors
  2 - Command error (unknown mode, unreadable project, etc.)

Examples:
  storyflow lint --mode expression 'mc.health > 0 && !mc.cursed'
  storyflow lint --project ./story.yaml 'mc.health -= 1; cap.gold += 2'
  echo 'mc.name = "Ayla"' | storyflow lint --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(opts, cmd, args)
		},
	}

	addModeFlag(cmd, &opts.TextOptions)
	cmd.Flags().StringVar(&opts.Project, "project", "", "project file or directory providing the variable catalog")

	return cmd
}

// addModeFlag registers --mode on a text command.
func addModeFlag(cmd *cobra.Command, opts *TextOptions) {
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "assignment", "text mode (assignment|expression)")
}

// readText resolves the mode flag and the input text.
func readText(opts *TextOptions, cmd *cobra.Command, args []string) (syntax.Mode, string, error) {
	mode, err := syntax.ParseMode(opts.Mode)
	if err != nil {
		return 0, "", WrapExitError(ExitCommandError, "invalid --mode", err)
	}
	if len(args) == 1 {
		return mode, args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return 0, "", WrapExitError(ExitCommandError, "failed to read stdin", err)
	}
	return mode, strings.TrimSuffix(string(data), "\n"), nil
}

func runLint(opts *LintOptions, cmd *cobra.Command, args []string) error {
	mode, text, err := readText(&opts.TextOptions, cmd, args)
	if err != nil {
		return err
	}

	var known []ir.KnownVariable
	if opts.Project != "" {
		project, err := compiler.LoadProject(cmd.Context(), opts.Project)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load project", err)
		}
		known = project.Catalog()
	} else {
		for _, ref := range lang.References(mode, text) {
			known = append(known, ir.KnownVariable{SheetShortcut: ref.Sheet, VariableName: ref.Variable})
		}
	}

	diags := lang.Lint(mode, text, known)
	result := LintResult{
		Mode:        mode.String(),
		Valid:       !lang.HasErrors(diags),
		Diagnostics: diags,
	}

	var failure *CLIError
	if !result.Valid {
		failure = &CLIError{Code: "E_LINT", Message: fmt.Sprintf("%s text has errors", result.Mode)}
	}
	f := newFormatter(cmd, opts.RootOptions)
	return f.Report("", result, failure, func(w io.Writer) {
		if len(result.Diagnostics) == 0 {
			f.Check(true, "No problems")
			return
		}
		runes := []rune(text)
		for _, d := range result.Diagnostics {
			fmt.Fprintf(w, "%d-%d %s: %s\n", d.From, d.To, d.Severity, d.Message)
			if d.From < d.To && d.To <= len(runes) {
				fmt.Fprintf(w, "  %s\n", string(runes[d.From:d.To]))
			}
		}
	})
}
