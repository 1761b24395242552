package cli

import (
	"context"
	"database/sql"
	"flag"

	"github.com/platinummonkey/spokehub/pkg/observability"
	"github.com/platinummonkey/spokehub/pkg/storage/postgres"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withDB(ctx, func(db *sql.DB) error {
			logger := observability.NewLogger(observability.InfoLevel, env.Log.Out)
			if err := postgres.Migrate(ctx, db, logger); err != nil {
				return err
			}
			env.Log.WithField("known", len(postgres.Migrations())).Info("Database is up to date")
			return nil
		})
	}

	return cmd
}
