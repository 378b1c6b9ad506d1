// Package store provides SQLite-backed durable storage for recorded traces.
//
// The store is an append-only log with:
//   - Events: delivered trace events, one row per event, in delivery order
//   - Sessions: trace sessions, written when they end
//   - Snapshots: buffer counters (delivered, lost) taken by the recorder
//
// # Ordering
//
// Rows are appended in the order the buffer delivered them, so seq is the
// delivery order. Reads always ORDER BY seq ASC. CheckOrder verifies that
// the recorded timestamps never decrease along seq, which is the buffer's
// delivery guarantee.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
