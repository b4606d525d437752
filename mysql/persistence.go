package mysql

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/velmie/sagastore"
)

const duplicateEntryCode = 1062

// Persistence wires saga persistence, sessions and the outbox on one MySQL database.
type Persistence struct {
	db     *sql.DB
	cfg    Config
	sagas  *SagaPersister
	outbox *OutboxStorage
}

// New constructs MySQL persistence with validated configuration.
func New(db *sql.DB, opts ...Option) (*Persistence, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.OutboxTable)
	if err != nil {
		return nil, err
	}
	cfg.OutboxTable = table

	p := &Persistence{db: db, cfg: cfg}
	p.sagas = &SagaPersister{mappings: cfg.Mappings, logger: cfg.Logger}
	p.outbox = &OutboxStorage{
		db:      db,
		table:   table,
		queries: newOutboxQueries(table),
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}

	return p, nil
}

// MustNew constructs MySQL persistence or panics on error.
func MustNew(db *sql.DB, opts ...Option) *Persistence {
	p, err := New(db, opts...)
	if err != nil {
		panic(err)
	}

	return p
}

// Sagas returns the saga persister.
func (p *Persistence) Sagas() *SagaPersister {
	return p.sagas
}

// Outbox returns the outbox storage.
func (p *Persistence) Outbox() *OutboxStorage {
	return p.outbox
}

// BeginTransaction starts a READ COMMITTED transaction for one unit of work.
func (p *Persistence) BeginTransaction(ctx context.Context) (*Transaction, error) {
	return beginTransaction(ctx, p.db)
}

// OpenSession opens a session owning its own transaction: call Complete on success and
// always Close.
func (p *Persistence) OpenSession(ctx context.Context) (*Session, error) {
	tx, err := p.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	s := p.newSession(tx)
	s.owned = true

	return s, nil
}

// SessionFor returns a session writing inside tx, typically sagastore.UnitOfWork.Tx().
// A nil tx runs statements on the pool without a transaction.
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

// SagaSchema returns the schema of the saga table for sagaType, with unique generated columns
// for the fields mapped to properties.
func (p *Persistence) SagaSchema(sagaType reflect.Type, properties ...string) (string, error) {
	for sagaType.Kind() == reflect.Pointer {
		sagaType = sagaType.Elem()
	}
	fields := make([]string, 0, len(properties))
	for _, property := range properties {
		field, err := p.cfg.Mappings.FieldName(sagaType, property)
		if err != nil {
			return "", err
		}
		fields = append(fields, field)
	}

	return SagaSchema(p.cfg.CollectionNamer(sagaType), fields...)
}

// NewCleanupMaintainer returns a maintainer removing dispatched outbox rows older than retention.
func (p *Persistence) NewCleanupMaintainer(retention, checkEvery time.Duration, limit int) (*CleanupMaintainer, error) {
	return NewCleanupMaintainer(p.db, CleanupMaintainerConfig{
		Table:      p.cfg.OutboxTable,
		Retention:  retention,
		CheckEvery: checkEvery,
		Limit:      limit,
		Clock:      p.cfg.Clock,
		Logger:     p.cfg.Logger,
	})
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == duplicateEntryCode
	}

	return false
}
