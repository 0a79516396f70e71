// Package engine executes storyflow flow graphs.
//
// The engine is a pure step function over immutable states: Step takes a
// State and the Graph of the active flow and returns the successor State
// plus a StepResult. States are values; every transition returns a copy
// and the input is never modified, so callers may keep old states around
// for rewinding and debugging.
//
// ARCHITECTURE:
//
// Step:
// Processes exactly the node at State.CurrentNodeID. Before dispatching
// on the node type the pre-step state is pushed onto State.Snapshots,
// StepCount is incremented and the node is appended to ExecutionPath.
//
// Driver:
// StepUntilInteractive calls Step until a node needs outside action
// (a dialogue with several valid responses, the end of the flow, an
// error, or a call into another flow). It is bounded by a step budget
// (DefaultMaxSteps) so graphs whose automatic nodes loop forever still
// terminate.
//
// Session:
// Session owns one State and the graph of the active flow. It resolves
// flow_jump and flow_return outcomes across the flows of a project and
// optionally records every step through a Recorder.
//
// CRITICAL PATTERNS:
//
// Determinism:
// No wall-clock time and no randomness. Conditions are evaluated in
// declaration order and recorded steps carry seq numbers from a Clock
// and a canonical digest of the variables, so Replay reproduces a
// recorded session exactly.
//
// Tolerance:
// Unknown variables read as nil and bad writes are skipped with a console
// warning. Only structural problems (a dangling node id, an unknown node
// type, an exhausted step budget) put a state into the error status.
package engine
