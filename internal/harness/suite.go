package harness

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ProjectNotFoundError is returned when a scenario names a project path
// that does not exist.
type ProjectNotFoundError struct {
	Scenario string
	Path     string
}

// Error implements the error interface.
func (e *ProjectNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q references project %q which does not exist", e.Scenario, e.Path)
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int              `json:"total_scenarios"`
	Passed         int              `json:"passed"`
	Failed         int              `json:"failed"`
	Results        []ScenarioReport `json:"results"`
}

// ScenarioReport is the outcome of one scenario file.
type ScenarioReport struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Result is nil when the scenario could not be loaded or run.
	Result *Result `json:"-"`
}

// FindScenarios returns the scenario files (.yaml, .yml) under dir in
// lexical order. A file path is returned as is.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find scenarios: %w", err)
	}
	return paths, nil
}

// RunSuite loads and runs every scenario under dir.
//
// A scenario that fails to load or run counts as failed; RunSuite only
// returns an error when dir itself cannot be read.
func RunSuite(ctx context.Context, dir string) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{Results: []ScenarioReport{}}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.TotalScenarios++
		report := runOne(ctx, path)
		if report.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, report)
	}
	return result, nil
}

func runOne(ctx context.Context, path string) ScenarioReport {
	report := ScenarioReport{Path: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		report.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return report
	}
	report.Name = scenario.Name

	res, err := Run(ctx, scenario)
	if err != nil {
		report.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
		return report
	}
	report.Pass = res.Pass
	report.Errors = res.Errors
	report.Result = res
	return report
}
