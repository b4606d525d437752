package sagastore

import "github.com/google/uuid"

// Operation is an outgoing message captured during a unit of work.
type Operation struct {
	// MessageID identifies the outgoing message, NewOperation and UnitOfWork.Send assign a UUID when empty.
	MessageID string
	// Destination is the transport address, e.g. a queue or topic name.
	Destination string
	// Body is the serialized message, storage never inspects it.
	Body []byte
	// Headers are transport headers.
	Headers map[string]string
	// Options carry dispatch properties (delivery delay, routing hints), opaque to storage.
	Options map[string]string
}

// NewOperation returns an operation with a generated message ID.
func NewOperation(destination string, body []byte, headers map[string]string) Operation {
	return Operation{
		MessageID:   uuid.NewString(),
		Destination: destination,
		Body:        body,
		Headers:     headers,
	}
}

// Validate checks required fields.
func (o Operation) Validate() error {
	if o.MessageID == "" {
		return ErrMessageIDRequired
	}
	if o.Destination == "" {
		return ErrDestinationRequired
	}

	return nil
}
