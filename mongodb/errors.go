package mongodb

import (
	"errors"
	"fmt"

	"github.com/velmie/sagastore"
)

var (
	// ErrClientRequired is returned when a nil *mongo.Client is provided.
	ErrClientRequired = errors.New("sagastore mongodb: client is required")
	// ErrDatabaseNameRequired is returned when no database name is configured.
	ErrDatabaseNameRequired = fmt.Errorf("%w: mongodb database name is required", sagastore.ErrConfiguration)
	// ErrInvalidVersionField is returned when the version element name is empty or reserved.
	ErrInvalidVersionField = fmt.Errorf("%w: invalid mongodb version field", sagastore.ErrConfiguration)
	// ErrRetentionInvalid is returned when the outbox retention is shorter than one second or
	// longer than math.MaxInt32 seconds.
	ErrRetentionInvalid = fmt.Errorf("%w: outbox retention must be between one second and math.MaxInt32 seconds", sagastore.ErrConfiguration)
	// ErrOutboxDisabled is returned when outbox storage is requested but the outbox is not enabled.
	ErrOutboxDisabled = errors.New("sagastore mongodb: outbox is not enabled")
	// ErrTransactionRequired is returned when an outbox record is stored without a transaction.
	ErrTransactionRequired = errors.New("sagastore mongodb: transaction is required")
	// ErrTransactionEnded is returned when committing a transaction that was already ended.
	ErrTransactionEnded = errors.New("sagastore mongodb: transaction already ended")
	// ErrVersionMissing is returned when a stored saga document has no version element.
	ErrVersionMissing = errors.New("sagastore mongodb: saga document has no version")
	// ErrInvalidVersion is returned when the stored version is not an integer.
	ErrInvalidVersion = errors.New("sagastore mongodb: saga document version is not an integer")
	// ErrMultipleSagas is returned when a correlation lookup matches more than one document.
	ErrMultipleSagas = errors.New("sagastore mongodb: correlation property matched more than one saga")
)
