package sagastore

import "reflect"

// SagaData is implemented by saga state structs. Persisters expect a non-nil pointer to the struct.
type SagaData interface {
	// SagaID returns the stable identity of the saga instance.
	SagaID() string
}

// CorrelationProperty names the property a saga instance is correlated on and its value.
type CorrelationProperty struct {
	Name  string
	Value any
}

// IsZero reports whether no correlation property was given.
func (c CorrelationProperty) IsZero() bool {
	return c.Name == ""
}

// SagaType returns the struct type behind data.
func SagaType(data SagaData) (reflect.Type, error) {
	if data == nil {
		return nil, ErrInvalidSagaData
	}
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, ErrInvalidSagaData
	}
	t := v.Elem().Type()
	if t.Kind() != reflect.Struct {
		return nil, ErrInvalidSagaData
	}

	return t, nil
}
