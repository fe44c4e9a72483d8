package main

import (
	"context"
	"log"
	"os"

	"github.com/tandem-social/tandem/cmd/tandem/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "tandem",
		Usage: "Social backend: connections, chats, posts and feeds",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.toml (defaults to the standard search paths)",
				Sources: cli.EnvVars("TANDEM_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			commands.ServeCommand(),
			commands.DBCommand(),
			commands.TokenCommand(),
			commands.PushCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
