package mysql

import (
	"fmt"
	"strings"
)

const sagaSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(191) NOT NULL,
	data JSON NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,%s
	PRIMARY KEY (id)%s
);`

const outboxSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	message_id VARCHAR(191) NOT NULL,
	operations JSON NOT NULL,
	dispatched BOOLEAN NOT NULL DEFAULT FALSE,
	dispatched_at TIMESTAMP(6) NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	PRIMARY KEY (message_id),
	INDEX idx_dispatched_at (dispatched, dispatched_at)
);`

// SagaSchema returns the schema of a saga table. Each correlation field becomes a stored
// generated column with a unique key, so duplicate correlation values are rejected by the
// database. GetByProperty queries these columns, so every property looked up must be listed.
func SagaSchema(table string, correlationFields ...string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	var columns, keys strings.Builder
	for _, field := range correlationFields {
		path, err := jsonPath(field)
		if err != nil {
			return "", err
		}
		column, err := correlationColumn(field)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&columns,
			"\n\t%s VARCHAR(191) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(data, '%s'))) STORED,",
			column, path)
		fmt.Fprintf(&keys, ",\n\tUNIQUE KEY uk_%s (%s)", column, column)
	}

	return fmt.Sprintf(sagaSchemaTemplate, name, columns.String(), keys.String()), nil
}

// OutboxSchema returns the schema of the outbox table.
func OutboxSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(outboxSchemaTemplate, name), nil
}
