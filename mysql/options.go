package mysql

import "github.com/velmie/sagastore"

const defaultOutboxTable = "outbox_record"

// Config defines MySQL persistence behavior.
type Config struct {
	// OutboxTable is the outbox table name. Use schema.table for non-default schema.
	OutboxTable string
	// CollectionNamer maps a saga type to its table name.
	CollectionNamer sagastore.CollectionNamer
	Mappings        *sagastore.Mappings
	Clock           sagastore.Clock
	Logger          sagastore.Logger
}

func (c Config) withDefaults() Config {
	if c.OutboxTable == "" {
		c.OutboxTable = defaultOutboxTable
	}
	if c.CollectionNamer == nil {
		c.CollectionNamer = sagastore.DefaultCollectionName
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

// Option configures MySQL persistence.
type Option func(*Config)

// WithOutboxTable sets the outbox table name.
func WithOutboxTable(name string) Option {
	return func(c *Config) {
		c.OutboxTable = name
	}
}

// WithCollectionNamer overrides the type -> table name convention.
func WithCollectionNamer(namer sagastore.CollectionNamer) Option {
	return func(c *Config) {
		c.CollectionNamer = namer
	}
}

// WithMappings sets the saga property -> JSON member registry used by correlation lookups.
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
