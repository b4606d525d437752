package mysql

import (
	"context"
	"database/sql"
	"reflect"

	"github.com/velmie/sagastore"
)

// Executor runs statements either on the pool or inside a transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	// QueryContext runs a query with the provided context.
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Session is the storage session of one unit of work. See mongodb.Session for the ownership
// rules, which are the same here.
type Session struct {
	db       *sql.DB
	namer    sagastore.CollectionNamer
	versions *sagastore.VersionCache
	tx       *Transaction
	owned    bool
}

// Table returns the sanitized table name of t.
func (s *Session) Table(t reflect.Type) (string, error) {
	return sanitizeTableName(s.namer(t))
}

// Versions returns the session's version cache.
func (s *Session) Versions() *sagastore.VersionCache {
	return s.versions
}

// Transaction returns the transaction the session writes in, or nil.
func (s *Session) Transaction() *Transaction {
	return s.tx
}

func (s *Session) executor() Executor {
	if s.tx == nil {
		return s.db
	}

	return s.tx.tx
}

// Complete commits the session's own transaction. It is a no-op otherwise.
func (s *Session) Complete(ctx context.Context) error {
	if !s.owned || s.tx == nil {
		return nil
	}

	return s.tx.Commit(ctx)
}

// Close releases the session's own transaction, rolling it back when Complete was not called.
func (s *Session) Close(ctx context.Context) error {
	if !s.owned || s.tx == nil {
		return nil
	}

	return s.tx.End(ctx)
}
