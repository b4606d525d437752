package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/velmie/sagastore"
)

// Transaction is a MongoDB multi-document transaction owned by one unit of work.
// It is not safe for concurrent use.
type Transaction struct {
	session   mongo.Session
	committed bool
	ended     bool
}

var _ sagastore.Transaction = (*Transaction)(nil)

func transactionOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Majority()).
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.Majority())
}

func beginTransaction(ctx context.Context, client *mongo.Client) (*Transaction, error) {
	session, err := client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("sagastore mongodb: start session failed: %w", err)
	}
	if err := session.StartTransaction(transactionOptions()); err != nil {
		session.EndSession(ctx)

		return nil, fmt.Errorf("sagastore mongodb: start transaction failed: %w", err)
	}

	return &Transaction{session: session}, nil
}

// Context binds ctx to the transaction so driver calls made with it join the transaction.
func (t *Transaction) Context(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.session)
}

// Commit commits the transaction. Calling it again after success is a no-op.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.ended {
		return ErrTransactionEnded
	}
	if t.committed {
		return nil
	}
	if err := t.session.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("sagastore mongodb: commit transaction failed: %w", err)
	}
	t.committed = true

	return nil
}

// End aborts the transaction unless it was committed and releases the session.
func (t *Transaction) End(ctx context.Context) error {
	if t.ended {
		return nil
	}
	t.ended = true

	var err error
	if !t.committed {
		if abortErr := t.session.AbortTransaction(ctx); abortErr != nil {
			err = fmt.Errorf("sagastore mongodb: abort transaction failed: %w", abortErr)
		}
	}
	t.session.EndSession(ctx)

	return err
}
