package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/sagastore"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "sagastore:outbox-cleanup:"
)

// CleanupOptions defines which dispatched records to delete.
type CleanupOptions struct {
	// Before removes rows dispatched at or before this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
}

// CleanupMaintainerConfig controls periodic cleanup of dispatched outbox rows.
type CleanupMaintainerConfig struct {
	// Table is the outbox table name. Use schema.table for non-default schema.
	Table string
	// Retention removes rows dispatched before now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// LockName is the advisory lock name. Defaults to sagastore:outbox-cleanup:<table>.
	LockName string
	// Clock overrides time source (useful for tests).
	Clock sagastore.Clock
	// Logger receives warnings about cleanup failures.
	Logger sagastore.Logger
}

// CleanupMaintainer runs periodic cleanup of dispatched outbox rows. Undispatched rows are
// never removed.
type CleanupMaintainer struct {
	db      *sql.DB
	queries outboxQueries
	cfg     CleanupMaintainerConfig
}

// Cleanup removes dispatched rows older than opts.Before and returns how many were deleted.
func (s *OutboxStorage) Cleanup(ctx context.Context, opts CleanupOptions) (int64, error) {
	return cleanupDispatched(ctx, s.db, s.queries, opts)
}

func cleanupDispatched(ctx context.Context, exec Executor, queries outboxQueries, opts CleanupOptions) (int64, error) {
	if opts.Before.IsZero() {
		return 0, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return 0, ErrCleanupLimitInvalid
	}

	res, err := exec.ExecContext(ctx, queries.cleanup, opts.Before, limit)
	if err != nil {
		return 0, fmt.Errorf("sagastore mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sagastore mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

// NewCleanupMaintainer creates a new cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Table == "" {
		cfg.Table = defaultOutboxTable
	}
	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	cfg.Table = table
	if cfg.Clock == nil {
		cfg.Clock = sagastore.SystemClock{}
	}
	cfg.Logger = sagastore.LoggerOrNop(cfg.Logger)
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + cfg.Table
	}

	return &CleanupMaintainer{db: db, queries: newOutboxQueries(table), cfg: cfg}, nil
}

// Run periodically deletes expired dispatched rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	m.ensureAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.ensureAndLog(ctx)
		}
	}
}

func (m *CleanupMaintainer) ensureAndLog(ctx context.Context) {
	deleted, err := m.Ensure(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.cfg.Logger.Warn("outbox cleanup failed", "table", m.cfg.Table, "err", err)
		}

		return
	}
	if deleted > 0 {
		m.cfg.Logger.Info("outbox cleanup removed dispatched records", "table", m.cfg.Table, "deleted", deleted)
	}
}

// Ensure executes a single cleanup pass. It does nothing when another session holds the lock.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (int64, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("sagastore mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return 0, err
	}
	if !locked {
		m.cfg.Logger.Debug("outbox cleanup lock held by another session", "lock", m.cfg.LockName)

		return 0, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return cleanupDispatched(ctx, conn, m.queries, CleanupOptions{Before: before, Limit: m.cfg.Limit})
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("sagastore mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("outbox cleanup release lock failed", "lock", m.cfg.LockName, "err", err)
	}
}
