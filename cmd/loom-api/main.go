package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/brianstittsr/loom/pkg/cmd"
	"github.com/brianstittsr/loom/pkg/log"
)

const defaultPort = 9090

func main() {
	command := &cli.Command{
		Name:                  "loom-api",
		Usage:                 "Serve the loom REST API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "runner",
				Usage:   "Run an embedded execution runner in this process",
				Value:   true,
				Sources: cli.EnvVars("EMBEDDED_RUNNER"),
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Usage:   "API key for the language-model collaborator",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "openai-base-url",
				Usage:   "Override the language-model API base URL",
				Sources: cli.EnvVars("OPENAI_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "mattermost-url",
				Usage:   "Chat platform server URL",
				Sources: cli.EnvVars("MATTERMOST_URL"),
			},
			&cli.StringFlag{
				Name:    "mattermost-token",
				Usage:   "Chat platform access token",
				Sources: cli.EnvVars("MATTERMOST_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("loom-api")
			logger.InfoContext(ctx, "Initializing loom API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("initialize persistence: %w", err)
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "loom-api", logger)
			if err != nil {
				return fmt.Errorf("initialize event bus: %w", err)
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, cmd.CollaboratorConfig{
				OpenAIAPIKey:    command.String("openai-api-key"),
				OpenAIBaseURL:   command.String("openai-base-url"),
				MattermostURL:   command.String("mattermost-url"),
				MattermostToken: command.String("mattermost-token"),
			})

			workerID := "api-" + uuid.New().String()[:8]

			api := NewAPI(logger, persistence, registry, eventBus, workerID, command.Bool("runner"))
			if err := api.Start(ctx, int(command.Int("port"))); err != nil {
				return fmt.Errorf("run API server: %w", err)
			}

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("loom-api").Error("Fatal error", "error", err)
		os.Exit(1)
	}
}
