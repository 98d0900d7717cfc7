// Package syncer owns the mutation write path and replays queued mutations
// against the server.
//
// Writes go through Coordinator.Submit: online writes hit the API directly,
// offline writes are persisted to the local queue and reported as deferred.
// Coordinator.Replay drains the queue in enqueue order, one request at a
// time, each carrying the mutation id as its idempotency key.
//
// Thread-safety model:
//   - Submit: safe from any goroutine
//   - Replay: serialized per Coordinator; across processes a Lease decides
//     which process sweeps
//   - Trigger: safe from any goroutine, coalesces into the Run loop
package syncer
