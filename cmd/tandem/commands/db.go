package commands

import (
	"context"
	"fmt"

	"github.com/tandem-social/tandem/internal/database"
	"github.com/tandem-social/tandem/internal/database/migrations"
	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// dbDependencies holds what the migration commands need.
type dbDependencies struct {
	db       database.Client
	migrator *migrate.Migrator
	logger   *zap.Logger
}

// DBCommand groups the schema migration commands.
func DBCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database management",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize migration tables",
				Action: withMigrator(handleInit),
			},
			{
				Name:   "migrate",
				Usage:  "Run pending migrations",
				Action: withMigrator(handleMigrate),
			},
			{
				Name:   "rollback",
				Usage:  "Rollback the last migration group",
				Action: withMigrator(handleRollback),
			},
			{
				Name:   "status",
				Usage:  "Show migration status",
				Action: withMigrator(handleStatus),
			},
			{
				Name:      "create",
				Usage:     "Create a new Go migration file",
				ArgsUsage: "NAME",
				Action:    withMigrator(handleCreate),
			},
		},
	}
}

type migratorAction func(ctx context.Context, c *cli.Command, deps *dbDependencies) error

// withMigrator connects to the database for the duration of one command.
func withMigrator(action migratorAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck // -

		db, err := database.NewConnection(ctx, &cfg.PostgreSQL, logger, false)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		return action(ctx, c, &dbDependencies{
			db:       db,
			migrator: migrate.NewMigrator(db.DB(), migrations.Migrations),
			logger:   logger,
		})
	}
}

func loadConfig(c *cli.Command) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.LoadFile(path)
	}
	cfg, _, err := config.LoadConfig()
	return cfg, err
}

func handleInit(ctx context.Context, _ *cli.Command, deps *dbDependencies) error {
	if err := deps.migrator.Init(ctx); err != nil {
		return err
	}
	deps.logger.Info("Migration tables initialized")
	return nil
}

func handleMigrate(ctx context.Context, _ *cli.Command, deps *dbDependencies) error {
	if err := deps.migrator.Init(ctx); err != nil {
		return err
	}
	if err := deps.migrator.Lock(ctx); err != nil {
		return err
	}
	defer deps.migrator.Unlock(ctx) //nolint:errcheck // -

	group, err := deps.migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		deps.logger.Info("No new migrations to run (database is up to date)")
		return nil
	}

	deps.logger.Info("Successfully migrated", zap.String("group", group.String()))
	return nil
}

func handleRollback(ctx context.Context, _ *cli.Command, deps *dbDependencies) error {
	if err := deps.migrator.Lock(ctx); err != nil {
		return err
	}
	defer deps.migrator.Unlock(ctx) //nolint:errcheck // -

	group, err := deps.migrator.Rollback(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		deps.logger.Info("No groups to roll back")
		return nil
	}

	deps.logger.Info("Successfully rolled back", zap.String("group", group.String()))
	return nil
}

func handleStatus(ctx context.Context, _ *cli.Command, deps *dbDependencies) error {
	ms, err := deps.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}

	deps.logger.Info("Migration status",
		zap.String("migrations", ms.String()),
		zap.String("unapplied", ms.Unapplied().String()),
		zap.String("last_group", ms.LastGroup().String()),
	)
	return nil
}

func handleCreate(ctx context.Context, c *cli.Command, deps *dbDependencies) error {
	if c.Args().Len() != 1 {
		return ErrNameRequired
	}

	mf, err := deps.migrator.CreateGoMigration(ctx, c.Args().First())
	if err != nil {
		return err
	}

	deps.logger.Info("Created Go migration",
		zap.String("name", mf.Name),
		zap.String("path", mf.Path),
	)
	return nil
}
