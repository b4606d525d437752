package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/velmie/sagastore"
)

// SagaPersister stores saga rows with optimistic concurrency.
//
// Saga data is stored as JSON using the struct's json tags. Correlation properties map to
// top-level JSON members.
type SagaPersister struct {
	mappings *sagastore.Mappings
	logger   sagastore.Logger
}

// Save inserts a new saga row with version 0. A primary or correlation key violation returns an
// error matching sagastore.ErrDuplicateKey.
func (p *SagaPersister) Save(ctx context.Context, s *Session, data sagastore.SagaData, corr sagastore.CorrelationProperty) error {
	sagaType, table, err := p.resolve(s, data)
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

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sagastore mysql: marshal saga failed: %w", err)
	}
	if _, err := s.executor().ExecContext(ctx, newSagaQueries(table).insert, data.SagaID(), payload); err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("%w: saga '%s' with id '%s': %v", sagastore.ErrDuplicateKey, sagaType.Name(), data.SagaID(), err)
		}

		return fmt.Errorf("sagastore mysql: insert saga failed: %w", err)
	}

	return nil
}

// Get loads the saga with sagaID into out. It returns false when no such saga exists.
func (p *SagaPersister) Get(ctx context.Context, s *Session, sagaID string, out sagastore.SagaData) (bool, error) {
	sagaType, table, err := p.resolve(s, out)
	if err != nil {
		return false, err
	}

	return p.find(ctx, s, sagaType, out, newSagaQueries(table).selectByID, sagaID)
}

// GetByProperty loads the saga whose correlation property equals value into out. The property
// must be a correlation column of the table, see SagaSchema.
func (p *SagaPersister) GetByProperty(ctx context.Context, s *Session, property string, value any, out sagastore.SagaData) (bool, error) {
	sagaType, table, err := p.resolve(s, out)
	if err != nil {
		return false, err
	}
	field, err := p.mappings.FieldName(sagaType, property)
	if err != nil {
		return false, err
	}
	column, err := correlationColumn(field)
	if err != nil {
		return false, err
	}
	normalized, err := correlationValue(value)
	if err != nil {
		return false, err
	}

	return p.find(ctx, s, sagaType, out, selectByProperty(table, column), normalized)
}

func (p *SagaPersister) find(ctx context.Context, s *Session, sagaType reflect.Type, out sagastore.SagaData, query string, args ...any) (bool, error) {
	rows, err := s.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sagastore mysql: select saga failed: %w", err)
	}
	defer rows.Close()

	var (
		payload []byte
		version int64
		count   int
	)
	for rows.Next() {
		count++
		if count > 1 {
			return false, fmt.Errorf("%w: saga type '%s'", ErrMultipleSagas, sagaType.Name())
		}
		if err := rows.Scan(&payload, &version); err != nil {
			return false, fmt.Errorf("sagastore mysql: scan saga failed: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("sagastore mysql: rows failed: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	reflect.ValueOf(out).Elem().SetZero()
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("sagastore mysql: decode saga failed: %w", err)
	}
	s.versions.Store(sagaType, version)

	return true, nil
}

// Update rewrites the saga and increments its version, provided the stored version still
// equals the one cached by the last Get in this session.
func (p *SagaPersister) Update(ctx context.Context, s *Session, data sagastore.SagaData) error {
	sagaType, table, err := p.resolve(s, data)
	if err != nil {
		return err
	}
	version, ok := s.versions.Lookup(sagaType)
	if !ok {
		return fmt.Errorf("%w: saga type '%s'", sagastore.ErrVersionNotCached, sagaType.Name())
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sagastore mysql: marshal saga failed: %w", err)
	}
	res, err := s.executor().ExecContext(ctx, newSagaQueries(table).update, payload, data.SagaID(), version)
	if err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("%w: saga '%s' with id '%s': %v", sagastore.ErrDuplicateKey, sagaType.Name(), data.SagaID(), err)
		}

		return fmt.Errorf("sagastore mysql: update saga failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sagastore mysql: update rows failed: %w", err)
	}
	if affected != 1 {
		p.logger.Debug("saga update matched no row", "saga_type", sagaType.Name(), "saga_id", data.SagaID(), "version", version)

		return &sagastore.ConflictError{SagaType: sagaType.Name(), SagaID: data.SagaID()}
	}
	s.versions.Store(sagaType, version+1)

	return nil
}

// Complete deletes the saga row without a version check. Deleting a missing saga succeeds.
func (p *SagaPersister) Complete(ctx context.Context, s *Session, data sagastore.SagaData) error {
	sagaType, table, err := p.resolve(s, data)
	if err != nil {
		return err
	}
	if _, err := s.executor().ExecContext(ctx, newSagaQueries(table).delete, data.SagaID()); err != nil {
		return fmt.Errorf("sagastore mysql: delete saga failed: %w", err)
	}
	s.versions.Forget(sagaType)

	return nil
}

func (p *SagaPersister) resolve(s *Session, data sagastore.SagaData) (reflect.Type, string, error) {
	sagaType, err := sagastore.SagaType(data)
	if err != nil {
		return nil, "", err
	}
	table, err := s.Table(sagaType)
	if err != nil {
		return nil, "", err
	}

	return sagaType, table, nil
}
