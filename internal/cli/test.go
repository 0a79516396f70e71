package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario tests",
		Long: `Run every YAML scenario under a directory against the project it
names, checking its scripted choices and assertions.

A scenario with a golden file at golden/<scenario-file-name>.golden next
to it must also reproduce the recorded trace snapshot exactly. Use
--update to write golden files from the current runs.

Exit codes:
  0 - All scenarios passed
  1 - At least one scenario failed
  2 - Command error (directory not found, etc.)

Examples:
  storyflow test ./scenarios
  storyflow test ./scenarios --update
  storyflow test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "update golden files")

	return cmd
}

func runTest(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	suite, err := harness.RunSuite(ctx, scenariosDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	f := newFormatter(cmd, opts.RootOptions)
	if suite.TotalScenarios == 0 {
		return f.Report("", suite, nil, func(w io.Writer) {
			fmt.Fprintf(w, "No scenarios found in %s\n", scenariosDir)
		})
	}

	suite.Passed, suite.Failed = 0, 0
	for i := range suite.Results {
		report := &suite.Results[i]
		if report.Result != nil {
			checkGolden(report, opts.Update)
		}
		if report.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		logger.Debug("scenario finished", "path", report.Path, "pass", report.Pass)
	}

	var failure *CLIError
	if suite.Failed > 0 {
		failure = &CLIError{Code: "E_TEST_FAILED", Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed)}
	}
	return f.Report("", suite, failure, func(io.Writer) {
		writeSuite(f, suite, opts.Update)
	})
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// checkGolden compares a passing run with its golden file, or rewrites
// the file when update is set. Scenarios without a golden file are
// judged on their assertions alone.
func checkGolden(report *harness.ScenarioReport, update bool) {
	snapshot, err := harness.MarshalSnapshot(harness.Snapshot(report.Name, report.Result))
	if err != nil {
		report.Pass = false
		report.Errors = append(report.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return
	}

	goldenPath := goldenFilePath(report.Path)
	if update {
		if err := updateGoldenFile(goldenPath, snapshot); err != nil {
			report.Pass = false
			report.Errors = append(report.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return
	}

	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		report.Pass = false
		report.Errors = append(report.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return
	}
	if !bytes.Equal(golden, snapshot) {
		report.Pass = false
		report.Errors = append(report.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
}

// updateGoldenFile writes the current trace snapshot as the golden file.
func updateGoldenFile(goldenPath string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func writeSuite(f *OutputFormatter, result *harness.SuiteResult, updated bool) {
	w := f.Writer
	for _, r := range result.Results {
		name := r.Name
		if name == "" {
			name = filepath.Base(r.Path)
		}
		switch {
		case r.Pass && updated:
			f.Check(true, "%s (golden updated)", name)
		case r.Pass:
			f.Check(true, "%s", name)
		default:
			f.Check(false, "%s", name)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)
	if result.Failed == 0 {
		f.Check(true, "All scenarios passed")
	}
}
