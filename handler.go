package sagastore

import (
	"context"

	"github.com/google/uuid"
)

// UnitOfWork is the handler's view of one incoming message being processed.
type UnitOfWork[T Transaction] struct {
	messageID  string
	tx         T
	operations []Operation
}

// MessageID returns the incoming message ID.
func (u *UnitOfWork[T]) MessageID() string {
	return u.messageID
}

// Tx returns the storage transaction. Saga sessions opened on it commit with the outbox record.
func (u *UnitOfWork[T]) Tx() T {
	return u.tx
}

// Send queues outgoing operations. They are dispatched only after the unit of work commits.
func (u *UnitOfWork[T]) Send(ops ...Operation) error {
	for _, op := range ops {
		if op.MessageID == "" {
			op.MessageID = uuid.NewString()
		}
		if err := op.Validate(); err != nil {
			return err
		}
		u.operations = append(u.operations, op)
	}

	return nil
}

// Operations returns the queued operations in send order.
func (u *UnitOfWork[T]) Operations() []Operation {
	out := make([]Operation, len(u.operations))
	copy(out, u.operations)

	return out
}

// Handler runs the business logic of one incoming message.
type Handler[T Transaction] interface {
	Handle(ctx context.Context, uow *UnitOfWork[T]) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T Transaction] func(ctx context.Context, uow *UnitOfWork[T]) error

// Handle implements Handler.
func (fn HandlerFunc[T]) Handle(ctx context.Context, uow *UnitOfWork[T]) error {
	return fn(ctx, uow)
}

// Dispatcher forwards recorded operations to the transport.
// It may be called more than once for the same operations and must tolerate that.
type Dispatcher interface {
	Dispatch(ctx context.Context, ops []Operation) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, ops []Operation) error

// Dispatch implements Dispatcher.
func (fn DispatcherFunc) Dispatch(ctx context.Context, ops []Operation) error {
	return fn(ctx, ops)
}
