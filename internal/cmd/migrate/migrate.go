package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/strandhq/strand/internal/config"
	registrymigrate "github.com/strandhq/strand/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/strandhq/strand/internal/plugin/store/gormstore"
	_ "github.com/strandhq/strand/internal/plugin/vector/pgvector"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("STRAND_DB_KIND"),
				Usage:   "Backend store (postgres|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("STRAND_DB_URL"),
				Usage:   "Postgres connection URL",
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Sources: cli.EnvVars("STRAND_SQLITE_PATH"),
				Usage:   "SQLite database file",
			},
			&cli.BoolFlag{
				Name:    "vector-migrate",
				Sources: cli.EnvVars("STRAND_VECTOR_MIGRATE_AT_START"),
				Usage:   "Also run vector store migrations",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DBURL = cmd.String("db-url")
			if p := cmd.String("sqlite-path"); p != "" {
				cfg.SQLitePath = p
			}
			cfg.DatastoreMigrateAtStart = true
			cfg.VectorMigrateAtStart = cmd.Bool("vector-migrate")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
