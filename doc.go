// Package sagastore provides saga state persistence with optimistic concurrency and a
// transactional outbox with pluggable storage backends.
//
// Typical flow for one incoming message:
//  1. A Processor checks the outbox for a record with the incoming message ID. When one exists
//     the message is a redelivery: its recorded operations are dispatched and the handler is skipped.
//  2. Otherwise the Processor begins a storage transaction and runs the Handler. The handler opens a
//     backend session on the transaction, reads and writes saga data through a saga persister and
//     queues outgoing operations on the UnitOfWork.
//  3. The outbox record and the saga writes commit together. The operations are then dispatched and
//     the record is marked as dispatched, after which the backend expires it once the retention
//     window has passed.
//
// Saga updates are compare-and-swap on a version token cached per saga type in the session's
// VersionCache. A stale update fails with ErrConcurrencyConflict and is never retried here.
//
// For the MongoDB implementation see the mongodb package; the mysql package provides the same
// contracts on MySQL 8.0+.
package sagastore
