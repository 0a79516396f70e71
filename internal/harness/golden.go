package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/storyflow/internal/ir"
)

// TraceSnapshot captures the observable outcome of a scenario run.
// Variable digests are left out: the final values are listed instead.
type TraceSnapshot struct {
	ScenarioName string              `json:"scenario_name"`
	SessionID    string              `json:"session_id"`
	Status       string              `json:"status"`
	NodeID       ir.ID               `json:"node_id"`
	Trace        []TraceEvent        `json:"trace"`
	Variables    map[string]ir.Value `json:"variables"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":     event.Seq,
			"step":    event.Step,
			"flow_id": event.FlowID,
			"node_id": event.NodeID,
			"outcome": event.Outcome,
		}
		if event.NodeType != "" {
			eventMap["node_type"] = string(event.NodeType)
		}
		if event.ResponseID != "" {
			eventMap["response_id"] = event.ResponseID
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"session_id":    s.SessionID,
		"status":        s.Status,
		"node_id":       s.NodeID,
		"trace":         traceList,
		"variables":     s.Variables,
	}
}

// Snapshot builds the golden snapshot of a result.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		SessionID:    result.SessionID,
		Status:       result.Status,
		NodeID:       result.NodeID,
		Trace:        result.Trace,
		Variables:    result.Variables,
	}
}

// MarshalSnapshot renders a snapshot as canonical JSON.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(Snapshot(scenarioName, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
