package sagastore

import (
	"fmt"
	"time"
)

// Record is the outbox entry of one incoming message.
//
// It moves through absent -> recorded -> dispatched -> expired. Operations never change after
// the record is stored.
type Record struct {
	// MessageID is the ID of the incoming message that produced the record.
	MessageID    string
	Operations   []Operation
	Dispatched   bool
	DispatchedAt time.Time
}

// Validate checks the message ID and every operation.
func (r Record) Validate() error {
	if r.MessageID == "" {
		return ErrMessageIDRequired
	}
	for i, op := range r.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}

	return nil
}
