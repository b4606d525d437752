// Package mysql provides saga persistence and outbox storage on MySQL 8.0+.
//
// Each saga type lives in its own table (see SagaSchema) holding the saga as a JSON document
// next to an integer version column. Updates are compare-and-swap on that column:
//
//	UPDATE <table> SET data = ?, version = version + 1 WHERE id = ? AND version = ?
//
// Outbox records live in one table (see OutboxSchema). Transactions run with READ COMMITTED
// isolation to avoid gap locks. Dispatched records are removed by CleanupMaintainer once the
// retention has elapsed.
//
// The DSN must enable parseTime.
package mysql
