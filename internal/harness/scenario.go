package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted play-through of one flow. The harness starts a
// session, applies the variable overrides, makes the listed choices in
// order and then checks the assertions against the final state and the
// recorded trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden
	// file of its trace.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Project is the project file or directory to play.
	// Relative paths are resolved against the scenario file location.
	Project string `yaml:"project"`

	// Flow is the id of the starting flow. Empty means the first
	// declared flow.
	Flow string `yaml:"flow,omitempty"`

	// SessionID fixes the recorded session id. Defaults to Name so that
	// golden traces are deterministic.
	SessionID string `yaml:"session_id,omitempty"`

	// MaxSteps overrides the engine's per-advance step budget.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Variables are debugger overrides applied before the first step,
	// keyed by dotted reference.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Choices are the responses picked at each dialogue, in order.
	Choices []ChoiceStep `yaml:"choices,omitempty"`

	// Assertions validate the final state and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ChoiceStep picks one response at a waiting dialogue.
type ChoiceStep struct {
	// Choose is the response id to pick.
	Choose string `yaml:"choose"`

	// Offered, when set, must equal the ids of the responses on offer
	// before choosing, in order.
	Offered []string `yaml:"offered,omitempty"`

	// Expect checks where the session stopped after the choice.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes where a session is expected to stop.
type ExpectClause struct {
	// Status is the expected session status (waiting_input, finished, error).
	Status string `yaml:"status"`

	// Node is the expected current node id. Optional.
	Node string `yaml:"node,omitempty"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type selects the check. See the Assert* constants.
	Type string `yaml:"type"`

	// Status is the expected final status (status).
	Status string `yaml:"status,omitempty"`

	// Node is a node id (at_node, visit_count).
	Node string `yaml:"node,omitempty"`

	// Nodes are node ids (visited, visit_order).
	Nodes []string `yaml:"nodes,omitempty"`

	// Ref is a dotted variable reference (variable).
	Ref string `yaml:"ref,omitempty"`

	// Equals is the expected value of Ref (variable). Absent means nil.
	Equals any `yaml:"equals,omitempty"`

	// Expr is condition text (condition, recorded).
	Expr string `yaml:"expr,omitempty"`

	// Count is the expected number of visits (visit_count).
	Count int `yaml:"count,omitempty"`

	// Text is a console substring (console_contains).
	Text string `yaml:"text,omitempty"`

	// Code is an evaluation error code (error_code).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus          = "status"
	AssertAtNode          = "at_node"
	AssertVariable        = "variable"
	AssertCondition       = "condition"
	AssertRecorded        = "recorded"
	AssertVisited         = "visited"
	AssertVisitOrder      = "visit_order"
	AssertVisitCount      = "visit_count"
	AssertConsoleContains = "console_contains"
	AssertErrorCode       = "error_code"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// project path relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the project path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Project != "" && !filepath.IsAbs(scenario.Project) && basePath != "" {
		scenario.Project = filepath.Join(basePath, scenario.Project)
	}

	if err := validateProjectPath(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. The project path is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// sessionID returns the id recorded for the scenario's session.
func (s *Scenario) sessionID() string {
	if s.SessionID != "" {
		return s.SessionID
	}
	return s.Name
}

func validateProjectPath(s *Scenario) error {
	if _, err := os.Stat(s.Project); os.IsNotExist(err) {
		return &ProjectNotFoundError{Scenario: s.Name, Path: s.Project}
	}
	return nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Project == "" {
		return fmt.Errorf("project is required")
	}

	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Choices {
		if step.Choose == "" {
			return fmt.Errorf("choices[%d]: choose is required", i)
		}
		if step.Expect != nil && step.Expect.Status == "" {
			return fmt.Errorf("choices[%d].expect: status is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
	case AssertAtNode:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for at_node", index)
		}
	case AssertVariable:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for variable", index)
		}
	case AssertCondition, AssertRecorded:
		if a.Expr == "" {
			return fmt.Errorf("assertions[%d]: expr is required for %s", index, a.Type)
		}
	case AssertVisited, AssertVisitOrder:
		if len(a.Nodes) == 0 {
			return fmt.Errorf("assertions[%d]: nodes list is required for %s", index, a.Type)
		}
	case AssertVisitCount:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for visit_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for visit_count", index)
		}
	case AssertConsoleContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for console_contains", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
