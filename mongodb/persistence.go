package mongodb

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/velmie/sagastore"
)

// Persistence wires saga persistence, sessions and the outbox on one MongoDB database.
type Persistence struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    Config
	sagas  *SagaPersister
	outbox *OutboxStorage
}

// New validates the configuration and returns a Persistence.
//
// Enabling the outbox while transactions are disabled fails with
// sagastore.ErrTransactionsRequired.
func New(client *mongo.Client, opts ...Option) (*Persistence, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Persistence{
		client: client,
		db:     client.Database(cfg.DatabaseName),
		cfg:    cfg,
	}
	p.sagas = &SagaPersister{
		versionField: cfg.VersionField,
		mappings:     cfg.Mappings,
		logger:       cfg.Logger,
	}
	if cfg.OutboxEnabled {
		p.outbox = &OutboxStorage{
			db:         p.db,
			collection: cfg.CollectionNamer(reflect.TypeOf(outboxRecord{})),
			begin:      p.BeginTransaction,
			clock:      cfg.Clock,
			logger:     cfg.Logger,
		}
	}

	return p, nil
}

// MustNew constructs a Persistence or panics on error.
func MustNew(client *mongo.Client, opts ...Option) *Persistence {
	p, err := New(client, opts...)
	if err != nil {
		panic(err)
	}

	return p
}

// Database returns the configured database.
func (p *Persistence) Database() *mongo.Database {
	return p.db
}

// Sagas returns the saga persister.
func (p *Persistence) Sagas() *SagaPersister {
	return p.sagas
}

// Outbox returns the outbox storage, or ErrOutboxDisabled.
func (p *Persistence) Outbox() (*OutboxStorage, error) {
	if p.outbox == nil {
		return nil, ErrOutboxDisabled
	}

	return p.outbox, nil
}

// BeginTransaction starts an outbox transaction with majority read and write concerns.
func (p *Persistence) BeginTransaction(ctx context.Context) (*Transaction, error) {
	return beginTransaction(ctx, p.client)
}

// OpenSession opens a standalone session. With transactions enabled the session owns a
// transaction: call Complete on success and always Close.
func (p *Persistence) OpenSession(ctx context.Context) (*Session, error) {
	s := p.newSession(nil)
	if !p.cfg.UseTransactions {
		return s, nil
	}
	tx, err := p.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	s.tx = tx
	s.owned = true

	return s, nil
}

// SessionFor returns a session writing inside tx, typically sagastore.UnitOfWork.Tx().
// Committing tx is left to its owner.
func (p *Persistence) SessionFor(tx *Transaction) *Session {
	return p.newSession(tx)
}

func (p *Persistence) newSession(tx *Transaction) *Session {
	return &Session{
		db:       p.db,
		namer:    p.cfg.CollectionNamer,
		versions: sagastore.NewVersionCache(),
		tx:       tx,
	}
}

// EnsureCorrelationIndex creates a unique index on the field mapped for property.
func (p *Persistence) EnsureCorrelationIndex(ctx context.Context, sagaType reflect.Type, property string) (err error) {
	for sagaType.Kind() == reflect.Pointer {
		sagaType = sagaType.Elem()
	}
	field, err := p.cfg.Mappings.FieldName(sagaType, property)
	if err != nil {
		return err
	}

	coll := p.db.Collection(p.cfg.CollectionNamer(sagaType), collectionOptions())
	ctx, span := startSpan(ctx, "ensure_index", coll.Name())
	defer func() { endSpan(span, err) }()

	model := mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	name, err := coll.Indexes().CreateOne(ctx, model)
	if err != nil {
		return fmt.Errorf("sagastore mongodb: create correlation index on %s.%s failed: %w", coll.Name(), field, err)
	}
	p.cfg.Logger.Debug("correlation index ensured", "collection", coll.Name(), "index", name)

	return nil
}

// NewRetentionMaintainer returns a maintainer for the outbox TTL index using the configured
// retention. checkEvery <= 0 uses the default interval.
func (p *Persistence) NewRetentionMaintainer(checkEvery time.Duration) (*RetentionMaintainer, error) {
	return NewRetentionMaintainer(p.db, RetentionConfig{
		Collection: p.cfg.CollectionNamer(reflect.TypeOf(outboxRecord{})),
		Retention:  p.cfg.OutboxRetention,
		CheckEvery: checkEvery,
		Logger:     p.cfg.Logger,
	})
}
