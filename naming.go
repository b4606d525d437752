package sagastore

import (
	"reflect"
	"strings"
)

// CollectionNamer resolves the collection (or table) name for a stored type.
// It must stay stable for the lifetime of a deployment.
type CollectionNamer func(t reflect.Type) string

// DefaultCollectionName lowercases the simple name of t, dereferencing pointers.
func DefaultCollectionName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return strings.ToLower(t.Name())
}
