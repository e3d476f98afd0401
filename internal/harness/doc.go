// Package harness runs workflow scenarios against the engine.
//
// A scenario starts one run of a CUE-declared workflow on the in-memory
// backend, feeds it backend events step by step, and checks the decisions
// the engine makes after each step. The clock is stopped and ids are
// sequential, so a scenario always produces the same trace, which can be
// kept as a golden file.
//
// # Scenario Format
//
//	name: shipping_happy_path
//	description: "Pack then ship, then complete"
//	workflows:
//	  - shipping.cue
//	workflow: Shipping
//	version: "1"
//	start:
//	  input: box-7
//	  expect:
//	    - {type: ScheduleActivity, activity_id: pack.1}
//	steps:
//	  - action: complete_activity
//	    id: pack.1
//	    expect:
//	      - {type: ScheduleActivity, activity_id: ship.1}
//	  - action: signal
//	    name: approve
//	    hold: true
//	assertions:
//	  - type: decision_count
//	    decision: {type: ScheduleActivity}
//	    count: 2
//	  - type: final_state
//	    status: WorkflowExecutionCompleted
//
// Expectations are partial: only the listed fields of a decision are
// compared against its canonical form. A held step delivers its event
// without deciding, so several events can land in one decision task.
//
// # Assertion Types
//
//   - decision_contains: some decision matches
//   - decision_order: the listed decisions match in this order
//   - decision_count: exactly N decisions match
//   - final_state: the run's close status and its unfinished work
package harness
