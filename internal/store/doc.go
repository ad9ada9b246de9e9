// Package store provides SQLite-backed durable storage for analysed runs.
//
// Each run records:
//   - Runs: directories, inferred relay address and scan counters
//   - Moments: the merged timeline exactly as it was scanned
//   - Phases and Stages: the reconstructed phases in completion order
//
// Storing the timeline makes a run replayable: scanning the stored moments
// again must reproduce the stored phases.
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Runs ORDER BY seq ASC; moments ORDER BY seq ASC
//   - Phases ORDER BY ord ASC; stages ORDER BY idx ASC
//
// Idempotent Writes
//   - Every insert uses ON CONFLICT DO NOTHING on its natural key, so
//     writing the same run twice is a no-op
//
// Times are stored as Unix nanoseconds and read back in UTC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
