package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/storage/postgres"
)

func newSeedUserCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed-user",
		Description: "Create a development user with an optional subscription",
		Flags:       flag.NewFlagSet("seed-user", flag.ContinueOnError),
	}

	id := cmd.Flags.String("id", "", "User id (random when empty)")
	username := cmd.Flags.String("username", "", "Username")
	email := cmd.Flags.String("email", "", "Primary email address")
	unverified := cmd.Flags.Bool("unverified", false, "Leave the email unverified")
	product := cmd.Flags.String("product", "", "Product id to subscribe the user to")
	days := cmd.Flags.Int("days", 30, "Subscription length in days")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *username == "" && *email == "" {
			return fmt.Errorf("username or email is required")
		}
		if *product != "" && *days <= 0 {
			return fmt.Errorf("days must be positive")
		}

		userID := *id
		if userID == "" {
			userID = uuid.NewString()
		}
		user := &entitlements.User{ID: userID, Username: *username}
		if *email != "" {
			user.Emails = []entitlements.Email{{Address: *email, Verified: !*unverified}}
		}

		return env.withDB(ctx, func(db *sql.DB) error {
			if err := postgres.NewUserRepository(db).SaveUser(ctx, user); err != nil {
				return err
			}
			log := env.Log.WithField("user_id", userID)

			if *product != "" {
				now := env.Now().UTC()
				validUntil := now.AddDate(0, 0, *days)
				err := postgres.NewSubscriptionRepository(db).UpsertSubscription(ctx, userID, entitlements.Subscription{
					ProductID:              *product,
					ExternalSubscriptionID: "seed-" + userID + "-" + *product,
					Status:                 entitlements.StatusActive,
					ValidUntil:             &validUntil,
					RenewsAt:               &validUntil,
					UpdatedAt:              now,
				})
				if err != nil {
					return err
				}
				log = log.WithField("product", *product).WithField("valid_until", validUntil.Format(time.RFC3339))
			}

			log.Info("Seeded user")
			fmt.Fprintln(env.Out, userID)
			return nil
		})
	}

	return cmd
}
