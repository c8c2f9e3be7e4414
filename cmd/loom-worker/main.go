// loom-worker is the standalone execution runner: it consumes
// workflow.triggered events from the event bus and walks the
// corresponding workflow graphs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/brianstittsr/loom/pkg/cmd"
	"github.com/brianstittsr/loom/pkg/engine"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/log"
	"github.com/brianstittsr/loom/pkg/otelhelper"
	"github.com/brianstittsr/loom/pkg/runner"
)

const drainTimeout = 30 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "loom-worker",
		Usage:                 "Run workflow executions from the event bus",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
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
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum executions run simultaneously",
				Value:   runner.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
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
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("loom-worker").Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("loom-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing loom worker")

	tracerProvider, err := otelhelper.NewTracerProvider(ctx, "loom-worker")
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	defer func() {
		if err := tracerProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("initialize persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "loom-worker", logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	registry := cmd.NewRegistry(logger, cmd.CollaboratorConfig{
		OpenAIAPIKey:    command.String("openai-api-key"),
		OpenAIBaseURL:   command.String("openai-base-url"),
		MattermostURL:   command.String("mattermost-url"),
		MattermostToken: command.String("mattermost-token"),
	})

	stream := execlog.NewStream(logger, persistence)
	dispatcher := engine.NewDispatcher(logger, workerID, persistence, registry, stream, eventBus)

	worker := runner.NewRunner(workerID, logger, persistence, eventBus, dispatcher, stream, int(command.Int("concurrency"))).
		WithTracer(tracerProvider.Tracer("loom-worker"))

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	<-ctx.Done()

	logger.Info("Shutting down; draining in-flight executions")

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	if err := worker.Drain(drainCtx); err != nil {
		logger.Warn("Drain incomplete", "error", err)
	}

	return nil
}
