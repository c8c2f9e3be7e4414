// loom-webhook is the webhook gateway: it exposes per-workflow trigger
// URLs and queues an execution for each accepted request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/brianstittsr/loom/pkg/cmd"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/log"
	"github.com/brianstittsr/loom/pkg/services"
	"github.com/brianstittsr/loom/pkg/sources/webhook"
)

const defaultPort = 8085

func main() {
	command := &cli.Command{
		Name:                  "loom-webhook",
		Usage:                 "Serve per-workflow webhook trigger URLs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the webhook gateway on",
				Value:   defaultPort,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
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
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("loom-webhook").Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("loom-webhook")
	logger.InfoContext(ctx, "Initializing loom webhook gateway")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("initialize persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "loom-webhook", logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	stream := execlog.NewStream(logger, persistence)
	executions := services.NewExecution(persistence, eventBus, stream)

	server := webhook.NewServer(int(command.Int("port")), logger, persistence, executions)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start webhook gateway: %w", err)
	}

	<-ctx.Done()

	return server.Stop(context.WithoutCancel(ctx))
}
