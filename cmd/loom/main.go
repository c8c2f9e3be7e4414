// loom is the admin CLI: inspect and manage workflows and blueprints
// directly against the persistence layer.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/brianstittsr/loom/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "loom",
		Usage:                 "Create and manage workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			workflowCommand(),
			blueprintCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("loom").Error("Fatal error", "error", err)
		os.Exit(1)
	}
}
