package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/velmie/sagastore"
)

// OutboxStorage stores outbox records in MySQL.
type OutboxStorage struct {
	db      *sql.DB
	table   string
	queries outboxQueries
	clock   sagastore.Clock
	logger  sagastore.Logger
}

var _ sagastore.OutboxStorage[*Transaction] = (*OutboxStorage)(nil)

type operationRow struct {
	MessageID   string            `json:"messageId"`
	Destination string            `json:"destination"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// Get returns the record stored for messageID.
func (s *OutboxStorage) Get(ctx context.Context, messageID string) (sagastore.Record, bool, error) {
	var (
		operations   []byte
		dispatched   bool
		dispatchedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.queries.selectOne, messageID).Scan(&operations, &dispatched, &dispatchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sagastore.Record{}, false, nil
		}

		return sagastore.Record{}, false, fmt.Errorf("sagastore mysql: select outbox record failed: %w", err)
	}

	ops, err := decodeOperations(operations)
	if err != nil {
		return sagastore.Record{}, false, err
	}
	record := sagastore.Record{
		MessageID:  messageID,
		Operations: ops,
		Dispatched: dispatched,
	}
	if dispatchedAt.Valid {
		record.DispatchedAt = dispatchedAt.Time.UTC()
	}

	return record, true, nil
}

// Store inserts record inside tx. A record with the same message ID returns an error matching
// sagastore.ErrDuplicateKey.
func (s *OutboxStorage) Store(ctx context.Context, record sagastore.Record, tx *Transaction) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	if err := record.Validate(); err != nil {
		return err
	}

	operations, err := encodeOperations(record.Operations)
	if err != nil {
		return err
	}
	if _, err := tx.tx.ExecContext(ctx, s.queries.insert, record.MessageID, operations); err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("%w: outbox record '%s'", sagastore.ErrDuplicateKey, record.MessageID)
		}

		return fmt.Errorf("sagastore mysql: insert outbox record failed: %w", err)
	}

	return nil
}

// SetAsDispatched marks the record dispatched. Already dispatched records keep their dispatch time.
func (s *OutboxStorage) SetAsDispatched(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, s.queries.setDispatched, s.clock.Now(), messageID)
	if err != nil {
		return fmt.Errorf("sagastore mysql: set outbox record dispatched failed: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		s.logger.Debug("outbox record already dispatched or missing", "message_id", messageID)
	}

	return nil
}

// BeginTransaction starts a READ COMMITTED transaction for one unit of work.
func (s *OutboxStorage) BeginTransaction(ctx context.Context) (*Transaction, error) {
	return beginTransaction(ctx, s.db)
}

func encodeOperations(ops []sagastore.Operation) ([]byte, error) {
	rows := make([]operationRow, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, operationRow{
			MessageID:   op.MessageID,
			Destination: op.Destination,
			Body:        op.Body,
			Headers:     op.Headers,
			Options:     op.Options,
		})
	}
	out, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("sagastore mysql: marshal operations failed: %w", err)
	}

	return out, nil
}

func decodeOperations(data []byte) ([]sagastore.Operation, error) {
	var rows []operationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("sagastore mysql: decode operations failed: %w", err)
	}
	ops := make([]sagastore.Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, sagastore.Operation{
			MessageID:   row.MessageID,
			Destination: row.Destination,
			Body:        row.Body,
			Headers:     row.Headers,
			Options:     row.Options,
		})
	}

	return ops, nil
}
