// Package store provides the SQLite-backed operation journal.
//
// A session row holds the CUE program the engine was built from; op rows
// hold every working-memory operation the session applied, in order:
//   - Sessions: one per engine lifetime, keyed by a UUIDv7
//   - Ops: assert, retract, modify, run, reset and remove_rule records
//
// # Critical Patterns
//
// Content-addressed ops:
//   - An op id is ir.OpID(session, seq, kind, payload)
//   - Writes use ON CONFLICT(id) DO NOTHING, so replaying into the same
//     journal is a no-op
//   - A different op at an existing (session, seq) is an error
//
// Logical time:
//   - Ordering uses seq INTEGER, never timestamps
//   - All queries ORDER BY seq ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: ops must reference a session
package store
