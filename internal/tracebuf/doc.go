// Package tracebuf implements the concurrent multi-lane trace buffer.
//
// A Buffer owns one lane per writer context (one per core). Writers append
// to their own lane with Write or Reserve/Commit and never coordinate with
// each other or with the reader. A single reader, serialized by the
// consumer-side lock, sees one stream ordered by commit timestamp.
//
// ARCHITECTURE:
//
// Head slots:
// The reader keeps one head slot per lane. A slot either caches the lane's
// oldest unconsumed event or records a timestamp as of which the lane was
// proven empty. A slot's timestamp is always a lower bound for anything the
// lane can report later.
//
// Ordered index:
// Slots are kept in a heap keyed by (timestamp, lane). The front is the
// candidate for the globally oldest event.
//
// Merge engine (advance):
//  1. A cached front is the oldest event: every other lane's bound or cached
//     event is later.
//  2. An empty front is re-peeked; a message found there is cached and the
//     index re-keyed.
//  3. If the lane is still empty, the engine sweeps: it takes t = Now(),
//     waits on the barrier for every in-flight write to become visible, and
//     re-peeks every empty lane. Lanes still empty are proven empty as of t.
//  4. When a swept front is still empty and nothing is cached, the buffer
//     is empty as of t. When something is cached the engine sweeps once
//     more; the new bound exceeds every cached timestamp.
//
// Drain callbacks:
// ScheduleAfterDrain records Now() with a callback. Whenever the engine
// settles the front of the index, callbacks whose snapshot is below the
// front's timestamp run: no undelivered event older than the snapshot can
// remain. Callbacks run after the consumer-side lock is released.
//
// Thread-safety model:
//   - Write/Reserve: safe from any goroutine; writes on one lane are serialized.
//   - Read*/Poll/ScheduleAfterDrain/Reset/Resize: safe from any goroutine,
//     serialized by the consumer-side lock. Blocking reads release the lock
//     while they wait.
package tracebuf
