package mongodb

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/velmie/sagastore"
)

// Session is the storage session of one unit of work.
//
// It carries the unit of work's version cache and, optionally, a transaction. A session
// opened by Persistence.OpenSession owns its transaction: Complete commits it and Close
// aborts it if Complete was not reached. A session joined to an outbox transaction with
// Persistence.SessionFor leaves commit to the transaction owner.
type Session struct {
	db       *mongo.Database
	namer    sagastore.CollectionNamer
	versions *sagastore.VersionCache
	tx       *Transaction
	owned    bool
}

func collectionOptions() *options.CollectionOptions {
	return options.Collection().
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.Majority())
}

// Collection returns the collection of t, reading from the primary with majority writes.
func (s *Session) Collection(t reflect.Type) *mongo.Collection {
	return s.db.Collection(s.namer(t), collectionOptions())
}

// Versions returns the session's version cache.
func (s *Session) Versions() *sagastore.VersionCache {
	return s.versions
}

// Transaction returns the transaction the session writes in, or nil.
func (s *Session) Transaction() *Transaction {
	return s.tx
}

func (s *Session) bind(ctx context.Context) context.Context {
	if s.tx == nil {
		return ctx
	}

	return s.tx.Context(ctx)
}

// Complete commits the session's own transaction. It is a no-op otherwise.
func (s *Session) Complete(ctx context.Context) error {
	if !s.owned || s.tx == nil {
		return nil
	}

	return s.tx.Commit(ctx)
}

// Close releases the session's own transaction, aborting it when Complete was not called.
func (s *Session) Close(ctx context.Context) error {
	if !s.owned || s.tx == nil {
		return nil
	}

	return s.tx.End(ctx)
}
