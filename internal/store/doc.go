// Package store provides the SQLite-backed Local Store for offline data.
//
// The store exposes named partitions, one per entity kind, each holding
// opaque JSON records keyed by their "id" field. Two partitions are backed
// by dedicated tables:
//   - pending-mutations: writes not yet confirmed by the server
//   - dead-letters: mutations the server rejected terminally
//
// # Contract
//
//   - Open is idempotent. Partitions declared by the current schema version
//     that do not exist yet are created; nothing is ever dropped.
//   - Every exported operation is atomic on its own. There are no cross-call
//     transactions, so callers that need read-modify-write must serialize
//     themselves.
//   - Reads never fail for "not found"; they return empty results.
//   - Queue entries are removed one at a time (CompleteMutation,
//     DeadLetter). There is no bulk read-filter-rewrite of the queue.
//
// # Ordering
//
// Record reads return ORDER BY position ASC, id COLLATE BINARY ASC, where
// position is the order records were first written (or the order of the
// last Replace). Pending mutations return ORDER BY enqueued_at ASC, seq ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
