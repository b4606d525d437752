package sagastore

import (
	"fmt"
	"reflect"
	"sync"
)

// FieldMap is a bidirectional mapping between saga property names and storage field names.
type FieldMap struct {
	fields     map[string]string
	properties map[string]string
}

// NewFieldMap builds a FieldMap from property -> field pairs.
// Names must be non-empty and no two properties may share a field.
func NewFieldMap(properties map[string]string) (FieldMap, error) {
	m := FieldMap{
		fields:     make(map[string]string, len(properties)),
		properties: make(map[string]string, len(properties)),
	}
	for property, field := range properties {
		if property == "" || field == "" {
			return FieldMap{}, fmt.Errorf("%w: empty property or field name", ErrConfiguration)
		}
		if other, ok := m.properties[field]; ok {
			return FieldMap{}, fmt.Errorf("%w: field %q mapped by both %q and %q", ErrConfiguration, field, other, property)
		}
		m.fields[property] = field
		m.properties[field] = property
	}

	return m, nil
}

// Field returns the storage field for property.
func (m FieldMap) Field(property string) (string, bool) {
	field, ok := m.fields[property]

	return field, ok
}

// Property returns the property stored in field.
func (m FieldMap) Property(field string) (string, bool) {
	property, ok := m.properties[field]

	return property, ok
}

// Len returns the number of mapped properties.
func (m FieldMap) Len() int {
	return len(m.fields)
}

// Mappings holds the field maps of all saga types. Register at startup, read from any goroutine.
type Mappings struct {
	mu   sync.RWMutex
	maps map[reflect.Type]FieldMap
}

// NewMappings returns an empty registry.
func NewMappings() *Mappings {
	return &Mappings{maps: make(map[reflect.Type]FieldMap)}
}

// Register sets the field map of sagaType, replacing any previous one.
func (m *Mappings) Register(sagaType reflect.Type, fields FieldMap) {
	for sagaType.Kind() == reflect.Pointer {
		sagaType = sagaType.Elem()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maps == nil {
		m.maps = make(map[reflect.Type]FieldMap)
	}
	m.maps[sagaType] = fields
}

// Register builds and registers the field map for saga type T.
func Register[T any](m *Mappings, properties map[string]string) error {
	fields, err := NewFieldMap(properties)
	if err != nil {
		return err
	}
	m.Register(reflect.TypeFor[T](), fields)

	return nil
}

// Lookup returns the field map registered for sagaType.
func (m *Mappings) Lookup(sagaType reflect.Type) (FieldMap, bool) {
	if m == nil {
		return FieldMap{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.maps[sagaType]

	return fields, ok
}

// FieldName resolves the storage field of a saga property.
// Unknown types or properties yield an *UnmappedPropertyError.
func (m *Mappings) FieldName(sagaType reflect.Type, property string) (string, error) {
	fields, ok := m.Lookup(sagaType)
	if ok {
		if field, found := fields.Field(property); found {
			return field, nil
		}
	}

	return "", &UnmappedPropertyError{SagaType: sagaType.Name(), Property: property}
}
