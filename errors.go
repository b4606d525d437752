package sagastore

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict indicates a saga update whose version check matched no document.
	ErrConcurrencyConflict = errors.New("sagastore: concurrency conflict")
	// ErrDuplicateKey indicates an insert that violated a unique constraint.
	ErrDuplicateKey = errors.New("sagastore: duplicate key")
	// ErrConfiguration indicates a missing or inconsistent configuration.
	ErrConfiguration = errors.New("sagastore: configuration error")
	// ErrTransactionsRequired is returned when the outbox is enabled while transactions are disabled.
	ErrTransactionsRequired = fmt.Errorf("%w: transactions are required when the outbox is enabled", ErrConfiguration)
	// ErrVersionNotCached is returned by Update when the session never loaded the saga.
	ErrVersionNotCached = errors.New("sagastore: saga version not loaded in this session")
	// ErrSagaIDRequired is returned when saga data reports an empty ID.
	ErrSagaIDRequired = errors.New("sagastore: saga id is required")
	// ErrInvalidSagaData is returned when saga data is nil or not a pointer to a struct.
	ErrInvalidSagaData = errors.New("sagastore: saga data must be a non-nil pointer to a struct")
	// ErrMessageIDRequired is returned when an outbox record or operation has no message ID.
	ErrMessageIDRequired = errors.New("sagastore: message id is required")
	// ErrDestinationRequired is returned when an operation has no destination.
	ErrDestinationRequired = errors.New("sagastore: operation destination is required")
	// ErrHandlerPanic indicates a unit-of-work handler panic.
	ErrHandlerPanic = errors.New("sagastore: handler panic")
)

// ConflictError describes a failed compare-and-swap update.
type ConflictError struct {
	SagaType string
	SagaID   string
}

// Error implements error.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("sagastore: the '%s' saga with id '%s' was updated by another process or no longer exists", e.SagaType, e.SagaID)
}

// Unwrap allows errors.Is(err, ErrConcurrencyConflict).
func (e *ConflictError) Unwrap() error {
	return ErrConcurrencyConflict
}

// UnmappedPropertyError reports a correlation property missing from a saga type's field map.
type UnmappedPropertyError struct {
	SagaType string
	Property string
}

func (e *UnmappedPropertyError) Error() string {
	return fmt.Sprintf("sagastore: property '%s' is not mapped for saga type '%s'", e.Property, e.SagaType)
}

// Unwrap allows errors.Is(err, ErrConfiguration).
func (e *UnmappedPropertyError) Unwrap() error {
	return ErrConfiguration
}
