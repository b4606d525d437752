package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/velmie/sagastore"
)

const (
	dispatchedField   = "dispatched"
	dispatchedAtField = "dispatchedAt"
)

// outboxRecord is the stored form of sagastore.Record. Its type name yields the
// default collection name "outboxrecord".
type outboxRecord struct {
	ID           string              `bson:"_id"`
	Operations   []operationDocument `bson:"operations"`
	Dispatched   bool                `bson:"dispatched"`
	DispatchedAt *time.Time          `bson:"dispatchedAt,omitempty"`
}

type operationDocument struct {
	MessageID   string     `bson:"messageId"`
	Destination string     `bson:"destination"`
	Body        []byte     `bson:"body"`
	Headers     []keyValue `bson:"headers"`
	Options     []keyValue `bson:"options"`
}

// keyValue keeps header keys out of element names, where '.' and '$' are not safe.
type keyValue struct {
	K string `bson:"k"`
	V string `bson:"v"`
}

// OutboxStorage stores outbox records in MongoDB.
type OutboxStorage struct {
	db         *mongo.Database
	collection string
	begin      func(ctx context.Context) (*Transaction, error)
	clock      sagastore.Clock
	logger     sagastore.Logger
}

var _ sagastore.OutboxStorage[*Transaction] = (*OutboxStorage)(nil)

func (s *OutboxStorage) coll() *mongo.Collection {
	return s.db.Collection(s.collection, collectionOptions())
}

// Get returns the record stored for messageID.
func (s *OutboxStorage) Get(ctx context.Context, messageID string) (record sagastore.Record, found bool, err error) {
	ctx, span := startSpan(ctx, "outbox_get", s.collection)
	defer func() { endSpan(span, err) }()

	var doc outboxRecord
	if err := s.coll().FindOne(ctx, bson.D{{Key: idField, Value: messageID}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return sagastore.Record{}, false, nil
		}

		return sagastore.Record{}, false, fmt.Errorf("sagastore mongodb: find outbox record failed: %w", err)
	}

	return fromOutboxDocument(doc), true, nil
}

// Store inserts record inside tx. A record with the same message ID returns an error matching
// sagastore.ErrDuplicateKey.
func (s *OutboxStorage) Store(ctx context.Context, record sagastore.Record, tx *Transaction) (err error) {
	if tx == nil {
		return ErrTransactionRequired
	}
	if err := record.Validate(); err != nil {
		return err
	}

	ctx, span := startSpan(ctx, "outbox_store", s.collection)
	defer func() { endSpan(span, err) }()

	if _, err := s.coll().InsertOne(tx.Context(ctx), toOutboxDocument(record)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: outbox record '%s'", sagastore.ErrDuplicateKey, record.MessageID)
		}

		return fmt.Errorf("sagastore mongodb: insert outbox record failed: %w", err)
	}

	return nil
}

// SetAsDispatched marks the record dispatched. Only undispatched records are matched, so the
// dispatch time of an already dispatched record never moves.
func (s *OutboxStorage) SetAsDispatched(ctx context.Context, messageID string) (err error) {
	ctx, span := startSpan(ctx, "outbox_set_dispatched", s.collection)
	defer func() { endSpan(span, err) }()

	filter := bson.D{
		{Key: idField, Value: messageID},
		{Key: dispatchedField, Value: false},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: dispatchedField, Value: true},
		{Key: dispatchedAtField, Value: s.clock.Now()},
	}}}

	result, err := s.coll().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("sagastore mongodb: set outbox record dispatched failed: %w", err)
	}
	if result.MatchedCount == 0 {
		s.logger.Debug("outbox record already dispatched or missing", "message_id", messageID)
	}

	return nil
}

// BeginTransaction starts a transaction for one unit of work.
func (s *OutboxStorage) BeginTransaction(ctx context.Context) (*Transaction, error) {
	return s.begin(ctx)
}

func toOutboxDocument(record sagastore.Record) outboxRecord {
	doc := outboxRecord{
		ID:         record.MessageID,
		Operations: make([]operationDocument, 0, len(record.Operations)),
		Dispatched: record.Dispatched,
	}
	if record.Dispatched && !record.DispatchedAt.IsZero() {
		at := record.DispatchedAt
		doc.DispatchedAt = &at
	}
	for _, op := range record.Operations {
		doc.Operations = append(doc.Operations, operationDocument{
			MessageID:   op.MessageID,
			Destination: op.Destination,
			Body:        op.Body,
			Headers:     toKeyValues(op.Headers),
			Options:     toKeyValues(op.Options),
		})
	}

	return doc
}

func fromOutboxDocument(doc outboxRecord) sagastore.Record {
	record := sagastore.Record{
		MessageID:  doc.ID,
		Operations: make([]sagastore.Operation, 0, len(doc.Operations)),
		Dispatched: doc.Dispatched,
	}
	if doc.DispatchedAt != nil {
		record.DispatchedAt = doc.DispatchedAt.UTC()
	}
	for _, op := range doc.Operations {
		record.Operations = append(record.Operations, sagastore.Operation{
			MessageID:   op.MessageID,
			Destination: op.Destination,
			Body:        op.Body,
			Headers:     fromKeyValues(op.Headers),
			Options:     fromKeyValues(op.Options),
		})
	}

	return record
}

func toKeyValues(m map[string]string) []keyValue {
	out := make([]keyValue, 0, len(m))
	for k, v := range m {
		out = append(out, keyValue{K: k, V: v})
	}
	slices.SortFunc(out, func(a, b keyValue) int {
		return strings.Compare(a.K, b.K)
	})

	return out
}

func fromKeyValues(kvs []keyValue) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[kv.K] = kv.V
	}

	return out
}
