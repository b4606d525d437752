package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	validation "github.com/jellydator/validation"
	"github.com/joho/godotenv"
)

// Config holds the cleanup settings read from the environment.
type Config struct {
	// MongoURI is the MongoDB connection string.
	MongoURI string
	// MongoDatabase is the database holding the outbox collection.
	MongoDatabase string
	// OutboxCollection is the MongoDB outbox collection name.
	OutboxCollection string

	// MySQLDSN is the MySQL DSN. It must set parseTime=true.
	MySQLDSN string
	// OutboxTable is the MySQL outbox table name.
	OutboxTable string
	// CleanupLimit caps the rows deleted per MySQL run. Zero uses the library default.
	CleanupLimit int

	// Retention is how long dispatched records are kept.
	Retention time.Duration
	// CheckEvery is the interval between runs when not in --once mode.
	CheckEvery time.Duration

	// LogLevel is the zap level name.
	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	loadDotEnv()

	return &Config{
		MongoURI:         env.GetString("MONGODB_URI", ""),
		MongoDatabase:    env.GetString("MONGODB_DATABASE", ""),
		OutboxCollection: getString("OUTBOX_COLLECTION", "outboxrecord"),

		MySQLDSN:     env.GetString("MYSQL_DSN", ""),
		OutboxTable:  getString("OUTBOX_TABLE", "outbox_record"),
		CleanupLimit: env.GetInt("CLEANUP_LIMIT", 0),

		Retention:  env.GetDuration("OUTBOX_RETENTION_HOURS", 168, time.Hour),
		CheckEvery: env.GetDuration("CHECK_EVERY_MINUTES", 60, time.Minute),

		LogLevel: getString("LOG_LEVEL", "info"),
	}
}

// getString is env.GetString that also falls back to def when the variable is set but empty.
func getString(key, def string) string {
	if v := env.GetString(key, def); v != "" {
		return v
	}

	return def
}

// ValidateMongo checks the settings used by the mongodb command.
func (c *Config) ValidateMongo() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MongoURI, validation.Required.Error("MONGODB_URI is required")),
		validation.Field(&c.MongoDatabase, validation.Required.Error("MONGODB_DATABASE is required")),
		validation.Field(&c.OutboxCollection, validation.Required.Error("outbox collection is required")),
		validation.Field(&c.Retention,
			validation.Required.Error("retention must be at least one second"),
			validation.Min(time.Second).Error("retention must be at least one second"),
		),
		validation.Field(&c.CheckEvery,
			validation.Required.Error("check interval must be at least one second"),
			validation.Min(time.Second).Error("check interval must be at least one second"),
		),
	)
}

// ValidateMySQL checks the settings used by the mysql command.
func (c *Config) ValidateMySQL() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MySQLDSN, validation.Required.Error("MYSQL_DSN is required")),
		validation.Field(&c.OutboxTable, validation.Required.Error("outbox table is required")),
		validation.Field(&c.CleanupLimit, validation.Min(0).Error("cleanup limit must not be negative")),
		validation.Field(&c.Retention,
			validation.Required.Error("retention must be at least one second"),
			validation.Min(time.Second).Error("retention must be at least one second"),
		),
		validation.Field(&c.CheckEvery,
			validation.Required.Error("check interval must be at least one second"),
			validation.Min(time.Second).Error("check interval must be at least one second"),
		),
	)
}

// loadDotEnv loads the first .env found walking up from the working directory.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
