package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velmie/sagastore"
)

// Transaction is a READ COMMITTED database transaction owned by one unit of work.
// It is not safe for concurrent use.
type Transaction struct {
	tx        *sql.Tx
	committed bool
	ended     bool
}

var _ sagastore.Transaction = (*Transaction)(nil)

func beginTransaction(ctx context.Context, db *sql.DB) (*Transaction, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("sagastore mysql: begin tx failed: %w", err)
	}

	return &Transaction{tx: tx}, nil
}

// Tx exposes the underlying transaction for application writes that must commit with the unit
// of work.
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Commit commits the transaction. Calling it again after success is a no-op.
func (t *Transaction) Commit(context.Context) error {
	if t.ended {
		return ErrTransactionEnded
	}
	if t.committed {
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sagastore mysql: commit failed: %w", err)
	}
	t.committed = true

	return nil
}

// End rolls the transaction back unless it was committed.
func (t *Transaction) End(context.Context) error {
	if t.ended {
		return nil
	}
	t.ended = true
	if t.committed {
		return nil
	}

	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sagastore mysql: rollback failed: %w", err)
	}

	return nil
}
