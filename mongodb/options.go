package mongodb

import (
	"fmt"
	"time"

	"github.com/velmie/sagastore"
)

const (
	defaultVersionField    = "_version"
	defaultOutboxRetention = 7 * 24 * time.Hour
	idField                = "_id"
)

// Config defines MongoDB persistence behavior.
type Config struct {
	DatabaseName    string
	CollectionNamer sagastore.CollectionNamer
	// VersionField is the saga document element holding the version token.
	VersionField       string
	UseTransactions    bool
	useTransactionsSet bool
	OutboxEnabled      bool
	// OutboxRetention is how long dispatched outbox records are kept.
	OutboxRetention time.Duration
	Mappings        *sagastore.Mappings
	Clock           sagastore.Clock
	Logger          sagastore.Logger
}

func (c Config) withDefaults() Config {
	if c.CollectionNamer == nil {
		c.CollectionNamer = sagastore.DefaultCollectionName
	}
	if c.VersionField == "" {
		c.VersionField = defaultVersionField
	}
	if !c.useTransactionsSet {
		c.UseTransactions = true
	}
	if c.OutboxRetention == 0 {
		c.OutboxRetention = defaultOutboxRetention
	}
	if c.Mappings == nil {
		c.Mappings = sagastore.NewMappings()
	}
	if c.Clock == nil {
		c.Clock = sagastore.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = sagastore.NopLogger{}
	}

	return c
}

func (c Config) validate() error {
	if c.DatabaseName == "" {
		return ErrDatabaseNameRequired
	}
	if c.VersionField == idField {
		return fmt.Errorf("%w: %q", ErrInvalidVersionField, c.VersionField)
	}
	if c.OutboxEnabled && !c.UseTransactions {
		return fmt.Errorf("%w: the outbox is enabled but UseTransactions is false", sagastore.ErrTransactionsRequired)
	}
	if err := validateRetention(c.OutboxRetention); err != nil {
		return err
	}

	return nil
}

// Option configures MongoDB persistence.
type Option func(*Config)

// WithDatabaseName sets the database holding saga and outbox collections.
func WithDatabaseName(name string) Option {
	return func(c *Config) {
		c.DatabaseName = name
	}
}

// WithCollectionNamer overrides the type -> collection name convention.
func WithCollectionNamer(namer sagastore.CollectionNamer) Option {
	return func(c *Config) {
		c.CollectionNamer = namer
	}
}

// WithVersionField sets the element name of the saga version token.
func WithVersionField(name string) Option {
	return func(c *Config) {
		c.VersionField = name
	}
}

// WithUseTransactions enables or disables transactions for sessions opened by OpenSession.
// The outbox cannot be enabled without them.
func WithUseTransactions(enabled bool) Option {
	return func(c *Config) {
		c.UseTransactions = enabled
		c.useTransactionsSet = true
	}
}

// WithOutbox enables outbox storage.
func WithOutbox(enabled bool) Option {
	return func(c *Config) {
		c.OutboxEnabled = enabled
	}
}

// WithOutboxRetention sets how long dispatched outbox records are kept.
func WithOutboxRetention(retention time.Duration) Option {
	return func(c *Config) {
		c.OutboxRetention = retention
	}
}

// WithMappings sets the saga property -> field registry used by correlation lookups.
func WithMappings(mappings *sagastore.Mappings) Option {
	return func(c *Config) {
		c.Mappings = mappings
	}
}

// WithClock sets the time source used for dispatch timestamps.
func WithClock(clock sagastore.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger sagastore.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
