package mongodb

import (
	"fmt"
	"math"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/velmie/sagastore"
)

// sagaDocument serializes data into a document keyed by the saga ID, without a version element.
func sagaDocument(data sagastore.SagaData, versionField string) (bson.D, error) {
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("sagastore mongodb: marshal saga failed: %w", err)
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("sagastore mongodb: unmarshal saga document failed: %w", err)
	}

	doc = withoutElement(doc, versionField)
	if indexOf(doc, idField) < 0 {
		doc = append(bson.D{{Key: idField, Value: data.SagaID()}}, doc...)
	}

	return doc, nil
}

// takeVersion removes the version element from doc and returns it.
func takeVersion(doc bson.D, versionField string) (bson.D, int64, error) {
	i := indexOf(doc, versionField)
	if i < 0 {
		return nil, 0, ErrVersionMissing
	}
	version, ok := asInt64(doc[i].Value)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %T", ErrInvalidVersion, doc[i].Value)
	}

	return withoutElement(doc, versionField), version, nil
}

// decodeSaga decodes doc into out, resetting out first. Unknown elements are ignored.
func decodeSaga(doc bson.D, out sagastore.SagaData) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sagastore mongodb: marshal saga document failed: %w", err)
	}
	reflect.ValueOf(out).Elem().SetZero()
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("sagastore mongodb: decode saga failed: %w", err)
	}

	return nil
}

func indexOf(doc bson.D, key string) int {
	for i, e := range doc {
		if e.Key == key {
			return i
		}
	}

	return -1
}

func withoutElement(doc bson.D, key string) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key != key {
			out = append(out, e)
		}
	}

	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}

		return int64(n), true
	default:
		return 0, false
	}
}
