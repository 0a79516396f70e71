package engine

// # Replay
//
// A session is fully determined by its flows, its initial variables and
// the responses the player chose. Steps carry no wall-clock time and every
// step record holds a digest of the variables after the step (canonical
// JSON, see ir.VariablesDigest), so re-running the recorded choices must
// reproduce the recorded trace record for record.
//
// Replay uses this to check a recorded session against the current
// project: a divergence means the story or the engine changed since the
// session was played.

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/storyflow/internal/ir"
)

// Divergence is the first difference between a recorded and a replayed
// trace.
type Divergence struct {
	Index    int    `json:"index"`
	Field    string `json:"field"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

func (d Divergence) String() string {
	return fmt.Sprintf("step record %d: %s recorded %q, replayed %q", d.Index, d.Field, d.Recorded, d.Replayed)
}

// ReplayResult is the outcome of Replay.
type ReplayResult struct {
	// Steps is the replayed trace.
	Steps []ir.StepRecord

	// State is the final replayed state.
	State State

	// Diverged is nil when the replay matched the recording.
	Diverged *Divergence
}

// Replay re-runs a recorded session from the entry of flowID, feeding it
// the recorded choices in order, and compares the resulting trace with
// recorded.
func Replay(ctx context.Context, e *Engine, flows FlowSource, flowID ir.ID, vars map[string]VariableSlot, recorded []ir.StepRecord) (*ReplayResult, error) {
	var choices []ir.ID
	for _, rec := range recorded {
		if !rec.ResponseID.IsZero() {
			choices = append(choices, rec.ResponseID)
		}
	}

	mem := &MemoryRecorder{}
	sess, err := NewSession(ctx, e, flows, flowID, vars,
		WithRecorder(mem, NewClock()),
		WithIDGenerator(NewFixedGenerator("replay")),
	)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	if _, err := sess.Settle(ctx); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	for _, choice := range choices {
		if sess.State().Status != StatusWaitingInput {
			break
		}
		if _, err := sess.Choose(ctx, choice); err != nil {
			// The recorded choice is not available any more; report the
			// trace up to here and let the comparison locate the change.
			break
		}
	}

	res := &ReplayResult{Steps: mem.Steps(), State: sess.State()}
	res.Diverged = compareTraces(recorded, res.Steps)
	return res, nil
}

func compareTraces(recorded, replayed []ir.StepRecord) *Divergence {
	n := min(len(recorded), len(replayed))
	for i := 0; i < n; i++ {
		a, b := recorded[i], replayed[i]
		switch {
		case a.NodeID != b.NodeID:
			return &Divergence{Index: i, Field: "node_id", Recorded: a.NodeID.String(), Replayed: b.NodeID.String()}
		case a.Outcome != b.Outcome:
			return &Divergence{Index: i, Field: "outcome", Recorded: a.Outcome, Replayed: b.Outcome}
		case a.VariablesDigest != b.VariablesDigest:
			return &Divergence{Index: i, Field: "variables_digest", Recorded: a.VariablesDigest, Replayed: b.VariablesDigest}
		}
	}
	if len(recorded) != len(replayed) {
		return &Divergence{
			Index:    n,
			Field:    "length",
			Recorded: fmt.Sprint(len(recorded)),
			Replayed: fmt.Sprint(len(replayed)),
		}
	}
	return nil
}

// MemoryRecorder is a Recorder keeping traces in memory.
type MemoryRecorder struct {
	mu       sync.Mutex
	sessions []ir.SessionRecord
	steps    []ir.StepRecord
	outcomes []ir.SessionOutcome
}

// StartSession implements Recorder.
func (m *MemoryRecorder) StartSession(_ context.Context, rec ir.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, rec)
	return nil
}

// RecordStep implements Recorder.
func (m *MemoryRecorder) RecordStep(_ context.Context, rec ir.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, rec)
	return nil
}

// FinishSession implements Recorder.
func (m *MemoryRecorder) FinishSession(_ context.Context, out ir.SessionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, out)
	return nil
}

// Steps returns the recorded steps in order.
func (m *MemoryRecorder) Steps() []ir.StepRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.StepRecord(nil), m.steps...)
}

// Outcomes returns the recorded session outcomes in order.
func (m *MemoryRecorder) Outcomes() []ir.SessionOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.SessionOutcome(nil), m.outcomes...)
}
