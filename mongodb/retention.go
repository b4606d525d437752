package mongodb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/velmie/sagastore"
)

const (
	// OutboxCleanupIndex is the name of the TTL index on dispatchedAt.
	OutboxCleanupIndex = "OutboxCleanup"

	defaultRetentionCheckEvery = time.Hour
	namespaceNotFoundCode      = 26
)

// IndexChange reports what Ensure did to the TTL index.
type IndexChange int

const (
	// IndexUnchanged means the index already matched the retention.
	IndexUnchanged IndexChange = iota
	// IndexCreated means the index did not exist.
	IndexCreated
	// IndexReplaced means the index existed with a different expiry and was recreated.
	IndexReplaced
)

// String implements fmt.Stringer.
func (c IndexChange) String() string {
	switch c {
	case IndexCreated:
		return "created"
	case IndexReplaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// RetentionConfig controls the outbox TTL index.
type RetentionConfig struct {
	// Collection is the outbox collection name (required).
	Collection string
	// Retention is how long dispatched records are kept, from one second to math.MaxInt32 seconds.
	Retention time.Duration
	// CheckEvery is the interval between reconciliations in Run.
	CheckEvery time.Duration
	// Logger receives warnings about failed reconciliations.
	Logger sagastore.Logger
}

// RetentionMaintainer keeps the OutboxCleanup TTL index in line with the configured retention.
// MongoDB's TTL monitor then removes dispatched records, no application code deletes them.
type RetentionMaintainer struct {
	db  *mongo.Database
	cfg RetentionConfig
}

// NewRetentionMaintainer creates a maintainer with defaults applied.
func NewRetentionMaintainer(db *mongo.Database, cfg RetentionConfig) (*RetentionMaintainer, error) {
	if db == nil {
		return nil, ErrClientRequired
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: outbox collection name is required", sagastore.ErrConfiguration)
	}
	if err := validateRetention(cfg.Retention); err != nil {
		return nil, err
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultRetentionCheckEvery
	}
	cfg.Logger = sagastore.LoggerOrNop(cfg.Logger)

	return &RetentionMaintainer{db: db, cfg: cfg}, nil
}

// Run reconciles the index immediately and then periodically until the context is canceled.
// Failures are logged and retried on the next tick.
func (m *RetentionMaintainer) Run(ctx context.Context) error {
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

func (m *RetentionMaintainer) ensureAndLog(ctx context.Context) {
	change, err := m.Ensure(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.cfg.Logger.Warn("outbox retention index reconcile failed", "collection", m.cfg.Collection, "err", err)
		}

		return
	}
	if change != IndexUnchanged {
		m.cfg.Logger.Info("outbox retention index reconciled", "collection", m.cfg.Collection, "change", change.String(), "retention", m.cfg.Retention)
	}
}

// Ensure creates the TTL index, or drops and recreates it when its expiry differs from the
// configured retention. It is not atomic: a concurrent reconcile may report a conflict, which
// resolves on the next call.
func (m *RetentionMaintainer) Ensure(ctx context.Context) (change IndexChange, err error) {
	ctx, span := startSpan(ctx, "ensure_ttl_index", m.cfg.Collection)
	defer func() { endSpan(span, err) }()

	coll := m.db.Collection(m.cfg.Collection)
	seconds := int64(m.cfg.Retention / time.Second)

	existing, found, err := m.findIndex(ctx, coll)
	if err != nil {
		return IndexUnchanged, err
	}
	if !found {
		if err := m.createIndex(ctx, coll, seconds); err != nil {
			return IndexUnchanged, err
		}

		return IndexCreated, nil
	}
	if current, ok := asInt64(existing["expireAfterSeconds"]); ok && current == seconds {
		return IndexUnchanged, nil
	}

	if _, err := coll.Indexes().DropOne(ctx, OutboxCleanupIndex); err != nil {
		return IndexUnchanged, fmt.Errorf("sagastore mongodb: drop %s index failed: %w", OutboxCleanupIndex, err)
	}
	if err := m.createIndex(ctx, coll, seconds); err != nil {
		return IndexUnchanged, err
	}

	return IndexReplaced, nil
}

func (m *RetentionMaintainer) findIndex(ctx context.Context, coll *mongo.Collection) (bson.M, bool, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		if isNamespaceNotFound(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("sagastore mongodb: list indexes failed: %w", err)
	}
	var indexes []bson.M
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, false, fmt.Errorf("sagastore mongodb: read indexes failed: %w", err)
	}
	for _, index := range indexes {
		if name, _ := index["name"].(string); name == OutboxCleanupIndex {
			return index, true, nil
		}
	}

	return nil, false, nil
}

func (m *RetentionMaintainer) createIndex(ctx context.Context, coll *mongo.Collection, seconds int64) error {
	model := mongo.IndexModel{
		Keys: bson.D{{Key: dispatchedAtField, Value: 1}},
		Options: options.Index().
			SetName(OutboxCleanupIndex).
			SetExpireAfterSeconds(int32(seconds)),
	}
	if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("sagastore mongodb: create %s index failed: %w", OutboxCleanupIndex, err)
	}

	return nil
}

func isNamespaceNotFound(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == namespaceNotFoundCode
	}

	return false
}

// maxRetention is the largest expireAfterSeconds a TTL index accepts.
const maxRetention = math.MaxInt32 * time.Second

func validateRetention(retention time.Duration) error {
	if retention < time.Second || retention > maxRetention {
		return fmt.Errorf("%w: %s", ErrRetentionInvalid, retention)
	}

	return nil
}
