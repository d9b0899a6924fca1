// Package journal provides SQLite-backed durable storage for store events.
//
// The journal is an append-only log with:
//   - Stores: the declaration of every journaled store (kind, reference mode)
//   - Events: every change event, keyed by (store_id, version)
//   - Checkpoints: store snapshots with their content hash
//
// Writes are idempotent: a repeated (store_id, version) is ignored. Reads
// order by version, never by wall time, so replay is deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Checkpoint hashes are computed by ir.SnapshotHash.
package journal
