package mysql

import "fmt"

type sagaQueries struct {
	insert     string
	selectByID string
	update     string
	delete     string
}

func newSagaQueries(table string) sagaQueries {
	return sagaQueries{
		insert:     fmt.Sprintf("INSERT INTO %s (id, data, version) VALUES (?, ?, 0)", table),
		selectByID: fmt.Sprintf("SELECT data, version FROM %s WHERE id = ?", table),
		update:     fmt.Sprintf("UPDATE %s SET data = ?, version = version + 1 WHERE id = ? AND version = ?", table),
		delete:     fmt.Sprintf("DELETE FROM %s WHERE id = ?", table),
	}
}

// selectByProperty looks up a saga by its generated correlation column. It fetches up to two
// rows so that ambiguous correlations are detected.
func selectByProperty(table, column string) string {
	return fmt.Sprintf("SELECT data, version FROM %s WHERE %s = ? LIMIT 2", table, column)
}

type outboxQueries struct {
	insert        string
	selectOne     string
	setDispatched string
	cleanup       string
}

func newOutboxQueries(table string) outboxQueries {
	return outboxQueries{
		insert:    fmt.Sprintf("INSERT INTO %s (message_id, operations) VALUES (?, ?)", table),
		selectOne: fmt.Sprintf("SELECT operations, dispatched, dispatched_at FROM %s WHERE message_id = ?", table),
		setDispatched: fmt.Sprintf(
			"UPDATE %s SET dispatched = TRUE, dispatched_at = ? WHERE message_id = ? AND dispatched = FALSE",
			table,
		),
		cleanup: fmt.Sprintf(
			"DELETE FROM %s WHERE dispatched = TRUE AND dispatched_at IS NOT NULL AND dispatched_at <= ? ORDER BY dispatched_at LIMIT ?",
			table,
		),
	}
}
