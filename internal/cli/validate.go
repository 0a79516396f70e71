package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/ir"
)

// ValidationResult represents the result of validating a project.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Project  string                     `json:"project,omitempty"`
	Flows    int                        `json:"flows"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.ValidationError `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <project>",
		Short: "Validate a narrative project",
		Long: `Validate a project file (.json, .yaml, .cue) or a directory of them.

Every document is checked against the project schema, then the flows are
checked: connections and jump targets resolve, every flow has one entry,
texts parse, and referenced variables are declared. Loops that never
reach a dialogue are reported as warnings.

Exit codes:
  0 - Project is valid (warnings may be present)
  1 - Validation found errors
  2 - Command error (unreadable path, schema violation)

Examples:
  storyflow validate ./story.yaml
  storyflow validate ./project-dir --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	formatter.VerboseLog("Loading project from %s", path)
	project, err := compiler.LoadProject(cmd.Context(), path)
	if err != nil {
		code, message := parseCompileError(err)
		return outputValidateError(formatter, code, message, path)
	}
	formatter.VerboseLog("Loaded %d flow(s), %d sheet(s)", len(project.Flows), len(project.Sheets))

	result := validateProject(project)
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateProject runs the validator and splits findings by severity.
func validateProject(project *ir.Project) ValidationResult {
	result := ValidationResult{Project: project.Name, Flows: len(project.Flows)}
	for _, e := range compiler.Validate(project) {
		if e.Severity == compiler.SeverityError {
			result.Errors = append(result.Errors, e)
		} else {
			result.Warnings = append(result.Warnings, e)
		}
	}
	result.Valid = len(result.Errors) == 0
	return result
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	writeFindings(formatter.Writer, result.Warnings)
	formatter.Check(true, "Project valid (%d flow(s), %d warning(s))", result.Flows, len(result.Warnings))
	return nil
}

// outputValidateError outputs a load failure.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Unloadable projects are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs the findings of an invalid project.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failure := &CLIError{
		Code:    result.Errors[0].Code,
		Message: fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)),
	}
	return formatter.Report("", result, failure, func(w io.Writer) {
		formatter.Check(false, "Validation failed")
		fmt.Fprintln(w)
		writeFindings(w, result.Errors)
		writeFindings(w, result.Warnings)
	})
}

func writeFindings(w io.Writer, errs []compiler.ValidationError) {
	for _, e := range errs {
		if e.NodeID != "" {
			fmt.Fprintf(w, "flow %s node %s\n", e.FlowID, e.NodeID)
		} else if e.FlowID != "" {
			fmt.Fprintf(w, "flow %s\n", e.FlowID)
		}
		fmt.Fprintf(w, "  %s %s: %s: %s\n\n", e.Severity, e.Code, e.Field, e.Message)
	}
}
