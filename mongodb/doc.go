// Package mongodb provides MongoDB saga persistence and outbox storage.
//
// Saga documents carry a hidden version element (default "_version") that starts at 0 and is
// incremented by every update. Update filters on the _id and the version cached by the session's
// Get, so a concurrent writer makes the update match nothing and fail with
// sagastore.ErrConcurrencyConflict.
//
// Every collection handle reads from the primary and writes with majority acknowledgement.
// Outbox transactions use majority read and write concerns. Dispatched outbox records are
// removed by a TTL index named OutboxCleanup on dispatchedAt, kept in sync with the configured
// retention by RetentionMaintainer.
//
// Transactions require a replica set or sharded cluster.
package mongodb
