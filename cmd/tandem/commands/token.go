package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/setup"
	"github.com/tandem-social/tandem/internal/setup/telemetry"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// TokenCommand issues a bearer token for local testing.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Issue a bearer token signed with the configured secret",
		ArgsUsage: "USER_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Value: 24 * time.Hour,
				Usage: "Token lifetime",
			},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			userID, err := userArg(c)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}

			token, err := verifier.Issue(userID, c.Duration("ttl"))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, token)
			return err
		},
	}
}

// PushCommand sends a test notification to one user.
func PushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Send a test push notification to a user",
		ArgsUsage: "USER_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "title",
				Value: "Tandem",
				Usage: "Notification title",
			},
			&cli.StringFlag{
				Name:  "body",
				Value: "Test notification",
				Usage: "Notification body",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			userID, err := userArg(c)
			if err != nil {
				return err
			}

			app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, CLILogDir, setup.Options{
				ConfigPath: c.String("config"),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Cleanup(context.Background())

			err = app.Dispatcher.Fanout().NotifySingleUser(ctx, userID, c.String("title"), c.String("body"),
				map[string]string{"type": "test"})
			if err != nil {
				return err
			}

			app.Logger.Info("Test notification sent", zap.String("user", userID.String()))
			return nil
		},
	}
}

func userArg(c *cli.Command) (uuid.UUID, error) {
	if c.Args().Len() != 1 {
		return uuid.Nil, ErrUserIDRequired
	}
	userID, err := uuid.Parse(c.Args().First())
	if err != nil {
		return uuid.Nil, ErrInvalidUserID
	}
	return userID, nil
}
