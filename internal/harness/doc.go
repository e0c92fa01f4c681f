// Package harness runs scripted scenarios against the engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: greet_adults
//	description: "Adults without dogs are greeted once"
//	program: ../programs/pets        # directory of .cue files
//	session: test-session-pets       # optional journal session id
//	engine:
//	  goal_generation: false         # overrides on the default config
//	hold: [farewell]                 # rules added later by add_rule
//	steps:
//	  - assert: person
//	    slots: {name: carol, age: 41}
//	  - run: 0                       # 0 runs to completion
//	  - add_rule: farewell
//	  - retract: 3
//	    expect_error: unknown fact
//	assertions:
//	  - type: fact_exists
//	    template: greeting
//	    slots: {who: carol}
//	  - type: agenda
//	    activations: ["farewell: 5"]
//
// Slot values follow the usual conversion: a YAML string is a symbol unless
// it is wrapped in double quotes, numbers are integers or floats, and lists
// are multifields. Ordered facts use fields instead of slots.
//
// # Assertion Types
//
//   - fact_exists, fact_absent: a fact (or goal, with goal: true) of the
//     template whose slots include the given ones
//   - fact_count: exactly count such facts
//   - agenda: the pending activations, in firing order
//   - fired: total firings over all run steps
//   - trace_order: operation kinds appear in this relative order
//
// # Deterministic Testing
//
// Every scenario runs on a fresh engine and an in-memory SQLite journal, with
// sequence numbers from the session clock. The snapshot (trace, final facts,
// agenda, journal length) is identical across runs, which is what makes
// golden comparison work.
package harness
