package mysql

import (
	"encoding/json"
	"fmt"
	"strings"
)

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}
	for _, part := range parts {
		if !isIdentifier(part) {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

// jsonPath returns the JSON path selecting a top-level member of the data column.
func jsonPath(field string) (string, error) {
	if !isIdentifier(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFieldName, field)
	}

	return `$."` + field + `"`, nil
}

// correlationColumn returns the generated column holding field, see SagaSchema.
func correlationColumn(field string) (string, error) {
	if !isIdentifier(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFieldName, field)
	}

	return "corr_" + field, nil
}

// correlationValue renders value the way the generated column stores it: strings as is, other
// scalars as their JSON text.
func correlationValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("sagastore mysql: marshal correlation value failed: %w", err)
	}

	return string(encoded), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}

		return false
	}

	return true
}
