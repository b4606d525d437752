package mysql

import (
	"errors"
	"fmt"

	"github.com/velmie/sagastore"
)

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("sagastore mysql: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = fmt.Errorf("%w: mysql table name is required", sagastore.ErrConfiguration)
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = fmt.Errorf("%w: invalid mysql table name", sagastore.ErrConfiguration)
	// ErrInvalidFieldName is returned when a mapped correlation field cannot be used as a JSON path.
	ErrInvalidFieldName = fmt.Errorf("%w: invalid mysql correlation field name", sagastore.ErrConfiguration)
	// ErrTransactionRequired is returned when an outbox record is stored without a transaction.
	ErrTransactionRequired = errors.New("sagastore mysql: transaction is required")
	// ErrTransactionEnded is returned when committing a transaction that was already ended.
	ErrTransactionEnded = errors.New("sagastore mysql: transaction already ended")
	// ErrMultipleSagas is returned when a correlation lookup matches more than one row.
	ErrMultipleSagas = errors.New("sagastore mysql: correlation property matched more than one saga")
	// ErrCleanupBeforeRequired is returned when cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("sagastore mysql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("sagastore mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("sagastore mysql: cleanup retention must be positive")
)
