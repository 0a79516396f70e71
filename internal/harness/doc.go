// Package harness plays scripted scenarios against story projects.
//
// A scenario names a project, a starting flow and the responses to pick
// at each dialogue. The harness runs the real engine through a Session
// recording into an in-memory store, then checks assertions against the
// final state, the recorded trace and the store's session search.
//
// # Scenario Format
//
//	name: pay_toll
//	description: "Paying the toll leaves two gold"
//	project: ../projects/toll.json
//	flow: "1"
//	variables:
//	  mc.health: 4
//	choices:
//	  - choose: pay
//	    offered: [pay]
//	    expect:
//	      status: finished
//	      node: paid
//	assertions:
//	  - type: status
//	    status: finished
//	  - type: variable
//	    ref: cap.gold
//	    equals: 2
//	  - type: condition
//	    expr: cap.gold < 5
//	  - type: visit_order
//	    nodes: [e, d, paid]
//
// Assertion types: status, at_node, variable, condition, recorded,
// visited, visit_order, visit_count, console_contains, error_code.
//
// # Golden Traces
//
// RunWithGolden compares the canonical JSON snapshot of a run with
// testdata/golden/<name>.golden. Session ids and seq numbers come from a
// fixed generator and a fresh clock, so snapshots are stable.
package harness
