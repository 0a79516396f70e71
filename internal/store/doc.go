// Package store provides SQLite-backed durable storage for play sessions.
//
// A session is recorded as:
//   - Sessions: one row per play-through, updated with its outcome
//   - Steps: every engine step, append-only, keyed by (session_id, seq)
//   - Console: the console lines of the final state
//   - Session variables: the final variable values, one row each, in the
//     column form querysql compiles conditions against
//
// # Ordering
//
// All ordering uses seq INTEGER (the session's logical clock), never
// timestamps, so replays read back identically. Session listings order by
// seq ASC, id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - application_id: marks the file as a trace database; files owned by
//     other applications, or with a newer user_version, are refused
//
// Variable digests stored with each step come from ir.VariablesDigest.
package store
