package sagastore

import "context"

// Transaction is a storage transaction bound to one incoming message.
type Transaction interface {
	// Commit makes all writes of the transaction durable.
	Commit(ctx context.Context) error
	// End releases the transaction, aborting it when Commit was not reached.
	// It is safe to call after Commit and more than once.
	End(ctx context.Context) error
}

// OutboxStorage persists outbox records.
type OutboxStorage[T Transaction] interface {
	// Get returns the record stored for messageID, found is false when none exists.
	Get(ctx context.Context, messageID string) (record Record, found bool, err error)
	// Store inserts record inside tx. A record with the same message ID yields ErrDuplicateKey.
	Store(ctx context.Context, record Record, tx T) error
	// SetAsDispatched marks the record dispatched. Repeated calls leave it unchanged.
	SetAsDispatched(ctx context.Context, messageID string) error
	// BeginTransaction starts a transaction for one unit of work.
	BeginTransaction(ctx context.Context) (T, error)
}
