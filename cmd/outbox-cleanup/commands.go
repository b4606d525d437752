package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/sagastore/mongodb"
	"github.com/velmie/sagastore/mysql"
	"github.com/velmie/sagastore/zaplog"
)

const disconnectTimeout = 10 * time.Second

// maintainer is implemented by mongodb.RetentionMaintainer and mysql.CleanupMaintainer.
type maintainer interface {
	Run(ctx context.Context) error
}

func newCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:  "outbox-cleanup",
		Usage: "Remove dispatched outbox records older than the retention period",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "retention",
				Value: cfg.Retention,
				Usage: "Keep dispatched records for this long",
			},
			&cli.DurationFlag{
				Name:  "check-every",
				Value: cfg.CheckEvery,
				Usage: "Interval between runs",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: cfg.LogLevel,
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "mongodb",
				Usage: "Reconcile the OutboxCleanup TTL index",
				Flags: append(mongoFlags(cfg), onceFlag()),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					applyFlags(cfg, cmd)
					if err := cfg.ValidateMongo(); err != nil {
						return usageError{err}
					}

					return withLogger(cfg, func(logger *zaplog.Logger) error {
						return runMongo(ctx, cfg, logger, cmd.Bool("once"))
					})
				},
			},
			{
				Name:  "mysql",
				Usage: "Delete dispatched rows from the outbox table",
				Flags: append(mysqlFlags(cfg), onceFlag()),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					applyFlags(cfg, cmd)
					if err := cfg.ValidateMySQL(); err != nil {
						return usageError{err}
					}

					return withLogger(cfg, func(logger *zaplog.Logger) error {
						return runMySQL(ctx, cfg, logger, cmd.Bool("once"))
					})
				},
			},
			{
				Name:  "all",
				Usage: "Run the MongoDB and MySQL maintainers until interrupted",
				Flags: append(mongoFlags(cfg), mysqlFlags(cfg)...),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					applyFlags(cfg, cmd)
					if err := errors.Join(cfg.ValidateMongo(), cfg.ValidateMySQL()); err != nil {
						return usageError{err}
					}

					return withLogger(cfg, func(logger *zaplog.Logger) error {
						return runAll(ctx, cfg, logger)
					})
				},
			},
		},
	}
}

func onceFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "once",
		Usage: "Run once and exit",
	}
}

func mongoFlags(cfg *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "uri", Value: cfg.MongoURI, Usage: "MongoDB connection string"},
		&cli.StringFlag{Name: "database", Value: cfg.MongoDatabase, Usage: "MongoDB database name"},
		&cli.StringFlag{Name: "collection", Value: cfg.OutboxCollection, Usage: "Outbox collection name"},
	}
}

func mysqlFlags(cfg *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "dsn", Value: cfg.MySQLDSN, Usage: "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true"},
		&cli.StringFlag{Name: "table", Value: cfg.OutboxTable, Usage: "Outbox table name"},
		&cli.IntFlag{Name: "limit", Value: cfg.CleanupLimit, Usage: "Max rows deleted per run (0 uses default)"},
	}
}

// applyFlags copies explicitly set flags over the environment values.
func applyFlags(cfg *Config, cmd *cli.Command) {
	if cmd.IsSet("retention") {
		cfg.Retention = cmd.Duration("retention")
	}
	if cmd.IsSet("check-every") {
		cfg.CheckEvery = cmd.Duration("check-every")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("uri") {
		cfg.MongoURI = cmd.String("uri")
	}
	if cmd.IsSet("database") {
		cfg.MongoDatabase = cmd.String("database")
	}
	if cmd.IsSet("collection") {
		cfg.OutboxCollection = cmd.String("collection")
	}
	if cmd.IsSet("dsn") {
		cfg.MySQLDSN = cmd.String("dsn")
	}
	if cmd.IsSet("table") {
		cfg.OutboxTable = cmd.String("table")
	}
	if cmd.IsSet("limit") {
		cfg.CleanupLimit = cmd.Int("limit")
	}
}

func withLogger(cfg *Config, fn func(logger *zaplog.Logger) error) error {
	logger, _, err := zaplog.New(cfg.LogLevel, false)
	if err != nil {
		return usageError{err}
	}
	defer func() { _ = logger.Sync() }()

	return fn(logger)
}

func runMongo(ctx context.Context, cfg *Config, logger *zaplog.Logger, once bool) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer disconnect(client)

	m, err := newRetentionMaintainer(client, cfg, logger)
	if err != nil {
		return err
	}
	if !once {
		return runUntilCanceled(ctx, m)
	}

	change, err := m.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("reconcile ttl index: %w", err)
	}
	logger.Info("outbox ttl index reconciled", "collection", cfg.OutboxCollection, "change", change.String())

	return nil
}

func runMySQL(ctx context.Context, cfg *Config, logger *zaplog.Logger, once bool) error {
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()

	m, err := newCleanupMaintainer(db, cfg, logger)
	if err != nil {
		return err
	}
	if !once {
		return runUntilCanceled(ctx, m)
	}

	deleted, err := m.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	logger.Info("outbox cleanup done", "table", cfg.OutboxTable, "deleted", deleted)

	return nil
}

func runAll(ctx context.Context, cfg *Config, logger *zaplog.Logger) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer disconnect(client)

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()

	retention, err := newRetentionMaintainer(client, cfg, logger)
	if err != nil {
		return err
	}
	cleanup, err := newCleanupMaintainer(db, cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range []maintainer{retention, cleanup} {
		g.Go(func() error {
			return runUntilCanceled(gctx, m)
		})
	}

	return g.Wait()
}

func newRetentionMaintainer(client *mongo.Client, cfg *Config, logger *zaplog.Logger) (*mongodb.RetentionMaintainer, error) {
	m, err := mongodb.NewRetentionMaintainer(client.Database(cfg.MongoDatabase), mongodb.RetentionConfig{
		Collection: cfg.OutboxCollection,
		Retention:  cfg.Retention,
		CheckEvery: cfg.CheckEvery,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init mongodb maintainer: %w", err)
	}

	return m, nil
}

func newCleanupMaintainer(db *sql.DB, cfg *Config, logger *zaplog.Logger) (*mysql.CleanupMaintainer, error) {
	m, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Table:      cfg.OutboxTable,
		Retention:  cfg.Retention,
		CheckEvery: cfg.CheckEvery,
		Limit:      cfg.CleanupLimit,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init mysql maintainer: %w", err)
	}

	return m, nil
}

func runUntilCanceled(ctx context.Context, m maintainer) error {
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}

func disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	_ = client.Disconnect(ctx)
}

// usageError marks configuration mistakes, which exit with exitUsage.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}

	return 1
}
