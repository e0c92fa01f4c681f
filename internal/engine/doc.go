// Package engine implements the runtime of the match network: alpha
// matching, beta propagation, incremental reset, backward-chaining goal
// synthesis and the agenda.
//
// ARCHITECTURE:
//
// Context object:
// Every piece of mutable state (working memory, join memories, alpha
// memories, the goal queue, garbage lists) hangs off one Engine value.
// Several engines can live in one process; nothing is global except the
// Prometheus instruments.
//
// Operation flow:
//  1. A public operation (Assert, Retract, Modify, AddRule, RemoveRule,
//     Reset, Run) enters through guard
//  2. The fact is walked through its template's pattern tree; every
//     terminal reached queues right activations for the joins entered there
//  3. drain processes activations depth-first in attach order; each join
//     inserts the match into its memory, probes the opposite memory's hash
//     bucket and emits one copy of every output per consumer
//  4. When the outermost operation returns, queued goal asserts/retracts
//     are materialized in FIFO order and garbage is released
//
// Partial matches:
// A match is inserted into a memory only when its activation is processed,
// so a left/right pair joins exactly once no matter which side arrives
// first. Each copy links to the left and right match it came from; removing
// either removes the copy and, transitively, everything derived from it.
//
// Goals:
// A join whose right pattern belongs to a backward-chaining template is a
// goal join. A left match with no right entry supports a synthesized goal
// fact; the goal lives while at least one match supports it.
//
// System errors:
// Broken invariants raise a *SystemError with panic. guard recovers it,
// halts the engine and returns it; every later operation fails with
// ErrHalted.
package engine
