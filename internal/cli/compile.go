package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	FlowCount     int `json:"flows"`
	NodeCount     int `json:"nodes"`
	SheetCount    int `json:"sheets"`
	VariableCount int `json:"variables"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <project>",
		Short: "Compile a project to one canonical JSON document",
		Long: `Load a project file or directory (.json, .yaml, .cue), merge its
documents and write the result as a single canonical JSON document:
sorted keys, no insignificant whitespace, stable across runs.

Examples:
  storyflow compile ./project-dir -o story.json
  storyflow compile ./story.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	project, err := compiler.LoadProject(cmd.Context(), path)
	if err != nil {
		code, message := parseCompileError(err)
		return outputCompileError(formatter, code, message, err)
	}

	for _, f := range project.Flows {
		formatter.VerboseLog("Compiled flow %s: %d node(s)", f.ID, len(f.Nodes))
	}

	stats := calculateStats(project)

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeProjectToFile(project, opts.Output); err != nil {
			return outputCompileError(formatter, "E_WRITE", fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, project, stats, opts.Output)
}

// calculateStats computes summary statistics of a project.
func calculateStats(project *ir.Project) CompilationStats {
	stats := CompilationStats{
		FlowCount:     len(project.Flows),
		SheetCount:    len(project.Sheets),
		VariableCount: len(project.Catalog()),
	}
	for _, f := range project.Flows {
		stats.NodeCount += len(f.Nodes)
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, project *ir.Project, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(project)
	}

	// Human-readable text output
	formatter.Check(true, "Compiled %d flow(s), %d sheet(s)", stats.FlowCount, stats.SheetCount)
	fmt.Fprintln(formatter.Writer)

	if len(project.Flows) > 0 {
		fmt.Fprintln(formatter.Writer, "Flows:")
		for _, f := range project.Flows {
			fmt.Fprintf(formatter.Writer, "  %s %s: %d node(s), %d connection(s)\n",
				f.ID, f.Name, len(f.Nodes), len(f.Connections))
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(project.Sheets) > 0 {
		fmt.Fprintln(formatter.Writer, "Sheets:")
		for _, s := range project.Sheets {
			fmt.Fprintf(formatter.Writer, "  %s: %d variable(s)\n", s.Shortcut, len(s.Variables))
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical project to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a load failure.
func outputCompileError(formatter *OutputFormatter, code, message string, err error) error {
	var details interface{}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
		details = fmt.Sprintf("%s:%d:%d", compileErr.Pos.Filename(), compileErr.Pos.Line(), compileErr.Pos.Column())
	}
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), err)
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compileErr.Code, compileErr.Message
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// writeProjectToFile writes the project to a file in canonical JSON format.
func writeProjectToFile(project *ir.Project, filename string) error {
	data, err := canonicalProject(project)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// canonicalProject renders a project as canonical JSON. The project is
// encoded with its JSON tags first, then re-encoded canonically.
func canonicalProject(project *ir.Project) ([]byte, error) {
	plain, err := json.Marshal(project)
	if err != nil {
		return nil, fmt.Errorf("marshaling project: %w", err)
	}
	var doc any
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("marshaling project: %w", err)
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling project: %w", err)
	}
	return data, nil
}
