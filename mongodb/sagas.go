package mongodb

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/velmie/sagastore"
)

const writeConflictCode = 112

// SagaPersister stores saga documents with optimistic concurrency.
//
// Saga data types are structs with bson tags, passed as pointers. The field holding the saga ID
// should be tagged `bson:"_id"`; when it is not, the ID returned by SagaID is stored as _id.
type SagaPersister struct {
	versionField string
	mappings     *sagastore.Mappings
	logger       sagastore.Logger
}

// Save inserts a new saga document with version 0.
//
// When corr names a property, it must be mapped for the saga type. A unique index violation
// returns an error matching sagastore.ErrDuplicateKey.
func (p *SagaPersister) Save(ctx context.Context, s *Session, data sagastore.SagaData, corr sagastore.CorrelationProperty) (err error) {
	sagaType, err := sagastore.SagaType(data)
	if err != nil {
		return err
	}
	if data.SagaID() == "" {
		return sagastore.ErrSagaIDRequired
	}
	if !corr.IsZero() {
		if _, err := p.mappings.FieldName(sagaType, corr.Name); err != nil {
			return err
		}
	}

	doc, err := sagaDocument(data, p.versionField)
	if err != nil {
		return err
	}
	doc = append(doc, bson.E{Key: p.versionField, Value: int64(0)})

	coll := s.Collection(sagaType)
	ctx, span := startSpan(ctx, "save", coll.Name())
	defer func() { endSpan(span, err) }()

	if _, err := coll.InsertOne(s.bind(ctx), doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: saga '%s' with id '%s': %v", sagastore.ErrDuplicateKey, sagaType.Name(), data.SagaID(), err)
		}

		return fmt.Errorf("sagastore mongodb: insert saga failed: %w", err)
	}

	return nil
}

// Get loads the saga with sagaID into out. It returns false when no such saga exists.
func (p *SagaPersister) Get(ctx context.Context, s *Session, sagaID string, out sagastore.SagaData) (bool, error) {
	sagaType, err := sagastore.SagaType(out)
	if err != nil {
		return false, err
	}

	return p.find(ctx, s, sagaType, bson.D{{Key: idField, Value: sagaID}}, out)
}

// GetByProperty loads the saga whose correlation property equals value into out.
// The property must be mapped for the saga type, otherwise the error matches
// sagastore.ErrConfiguration.
func (p *SagaPersister) GetByProperty(ctx context.Context, s *Session, property string, value any, out sagastore.SagaData) (bool, error) {
	sagaType, err := sagastore.SagaType(out)
	if err != nil {
		return false, err
	}
	field, err := p.mappings.FieldName(sagaType, property)
	if err != nil {
		return false, err
	}

	return p.find(ctx, s, sagaType, bson.D{{Key: field, Value: value}}, out)
}

func (p *SagaPersister) find(ctx context.Context, s *Session, sagaType reflect.Type, filter bson.D, out sagastore.SagaData) (found bool, err error) {
	coll := s.Collection(sagaType)
	ctx, span := startSpan(ctx, "find", coll.Name())
	defer func() { endSpan(span, err) }()

	cursor, err := coll.Find(s.bind(ctx), filter, options.Find().SetLimit(2))
	if err != nil {
		return false, fmt.Errorf("sagastore mongodb: find saga failed: %w", err)
	}
	var docs []bson.D
	if err := cursor.All(s.bind(ctx), &docs); err != nil {
		return false, fmt.Errorf("sagastore mongodb: read saga failed: %w", err)
	}
	switch len(docs) {
	case 0:
		return false, nil
	case 1:
	default:
		return false, fmt.Errorf("%w: saga type '%s'", ErrMultipleSagas, sagaType.Name())
	}

	doc, version, err := takeVersion(docs[0], p.versionField)
	if err != nil {
		return false, err
	}
	if err := decodeSaga(doc, out); err != nil {
		return false, err
	}
	s.versions.Store(sagaType, version)

	return true, nil
}

// Update replaces the stored saga document with data and increments its version, provided the
// stored version still equals the one cached by the last Get in this session. Elements absent
// from data, such as cleared omitempty fields, are removed from the stored document.
//
// A version mismatch, a missing document or a transaction write conflict returns a
// *sagastore.ConflictError. Updating a saga
// that was not loaded in this session returns sagastore.ErrVersionNotCached.
func (p *SagaPersister) Update(ctx context.Context, s *Session, data sagastore.SagaData) (err error) {
	sagaType, err := sagastore.SagaType(data)
	if err != nil {
		return err
	}
	version, ok := s.versions.Lookup(sagaType)
	if !ok {
		return fmt.Errorf("%w: saga type '%s'", sagastore.ErrVersionNotCached, sagaType.Name())
	}

	doc, err := sagaDocument(data, p.versionField)
	if err != nil {
		return err
	}
	replacement := append(doc, bson.E{Key: p.versionField, Value: version + 1})
	filter := bson.D{
		{Key: idField, Value: data.SagaID()},
		{Key: p.versionField, Value: version},
	}

	coll := s.Collection(sagaType)
	ctx, span := startSpan(ctx, "update", coll.Name())
	defer func() { endSpan(span, err) }()

	result, err := coll.ReplaceOne(s.bind(ctx), filter, replacement)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: saga '%s' with id '%s': %v", sagastore.ErrDuplicateKey, sagaType.Name(), data.SagaID(), err)
		}
		if isWriteConflict(err) {
			p.logger.Debug("saga update hit a write conflict", "saga_type", sagaType.Name(), "saga_id", data.SagaID(), "version", version)

			return &sagastore.ConflictError{SagaType: sagaType.Name(), SagaID: data.SagaID()}
		}

		return fmt.Errorf("sagastore mongodb: update saga failed: %w", err)
	}
	if result.ModifiedCount != 1 {
		p.logger.Debug("saga update matched no document", "saga_type", sagaType.Name(), "saga_id", data.SagaID(), "version", version)

		return &sagastore.ConflictError{SagaType: sagaType.Name(), SagaID: data.SagaID()}
	}
	s.versions.Store(sagaType, version+1)

	return nil
}

// Complete deletes the saga by _id without a version check. Deleting a missing saga succeeds.
func (p *SagaPersister) Complete(ctx context.Context, s *Session, data sagastore.SagaData) (err error) {
	sagaType, err := sagastore.SagaType(data)
	if err != nil {
		return err
	}

	coll := s.Collection(sagaType)
	ctx, span := startSpan(ctx, "complete", coll.Name())
	defer func() { endSpan(span, err) }()

	if _, err := coll.DeleteOne(s.bind(ctx), bson.D{{Key: idField, Value: data.SagaID()}}); err != nil {
		return fmt.Errorf("sagastore mongodb: delete saga failed: %w", err)
	}
	s.versions.Forget(sagaType)

	return nil
}

// isWriteConflict reports a transaction that touched a document modified after its snapshot.
func isWriteConflict(err error) bool {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorCode(writeConflictCode)
	}

	return false
}
