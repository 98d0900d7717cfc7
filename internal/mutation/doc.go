// Package mutation defines the Pending Mutation record shared by the local
// store and the sync coordinator.
//
// A mutation is created when a write cannot be confirmed by the server. Its
// id is generated once at enqueue time and doubles as the idempotency token
// sent on every replay attempt, so a server that deduplicates by token never
// applies the same write twice.
//
// ORDERING:
// Mutations replay in non-decreasing EnqueuedAt order (unix milliseconds).
// Equal timestamps fall back to enqueue sequence, which the store assigns.
package mutation
