package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	registrymigrate "github.com/chirino/notification-cache/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/notification-cache/internal/plugin/store/postgres"
	_ "github.com/chirino/notification-cache/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the local store schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("NOTIFICATION_CACHE_DB_URL"),
				Usage:   "SQLite file path or PostgreSQL DSN",
				Value:   config.DefaultConfig().DBURL,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("NOTIFICATION_CACHE_DB_KIND"),
				Usage:   "Local store (sqlite|postgres)",
				Value:   "sqlite",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DBKind = cmd.String("db-kind")
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DBKind)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
