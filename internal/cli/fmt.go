package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/lang"
)

// FormatResult is the JSON payload of the fmt command.
type FormatResult struct {
	Mode      string `json:"mode"`
	Text      string `json:"text"`
	Formatted string `json:"formatted"`
	Changed   bool   `json:"changed"`
}

// NewFmtCommand creates the fmt command.
func NewFmtCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fmt [text]",
		Short: "Rewrite condition or instruction text in canonical form",
		Long: `Parse text, reduce it to its structured form and serialize it back.
The result is the canonical spelling of the text: normalized spacing
and operators, one statement per line for instructions.

Text that has syntax errors is not rewritten.

Examples:
  storyflow fmt 'mc.health-=1;cap.gold+=2'
  storyflow fmt --mode expression 'mc.health>0&&mc.brave==true'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFmt(opts, cmd, args)
		},
	}

	addModeFlag(cmd, opts)

	return cmd
}

func runFmt(opts *TextOptions, cmd *cobra.Command, args []string) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	mode, text, err := readText(opts, cmd, args)
	if err != nil {
		return err
	}

	formatted, err := lang.Format(mode, text)
	if err != nil {
		_ = formatter.Error("E_SYNTAX", err.Error(), nil)
		return WrapExitError(ExitFailure, "cannot format text", err)
	}

	if opts.Format == "json" {
		return formatter.Success(FormatResult{
			Mode:      mode.String(),
			Text:      text,
			Formatted: formatted,
			Changed:   formatted != text,
		})
	}
	fmt.Fprintln(formatter.Writer, formatted)
	return nil
}
