// loom-sources runs the trigger sources that start workflows from the
// outside world: cron schedules, Redis queues and chat messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/brianstittsr/loom/pkg/clients/mattermost"
	"github.com/brianstittsr/loom/pkg/cmd"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/log"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/services"
	"github.com/brianstittsr/loom/pkg/sources/chat"
	"github.com/brianstittsr/loom/pkg/sources/queue"
	"github.com/brianstittsr/loom/pkg/sources/schedule"
)

func main() {
	command := &cli.Command{
		Name:                  "loom-sources",
		Usage:                 "Run workflow trigger sources (schedule, queue, chat)",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Name:    "sources",
				Usage:   "Comma-separated sources to run (schedule, queue, chat)",
				Value:   "schedule",
				Sources: cli.EnvVars("SOURCES"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the queue source",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "mattermost-url",
				Usage:   "Chat platform server URL for the chat source",
				Sources: cli.EnvVars("MATTERMOST_URL"),
			},
			&cli.StringFlag{
				Name:    "mattermost-token",
				Usage:   "Chat platform access token for the chat source",
				Sources: cli.EnvVars("MATTERMOST_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Usage:   "How often sources rescan active workflows",
				Value:   schedule.DefaultRefreshInterval,
				Sources: cli.EnvVars("SOURCE_REFRESH_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the chat source polls bound channels",
				Value:   chat.DefaultPollInterval,
				Sources: cli.EnvVars("CHAT_POLL_INTERVAL"),
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
		log.WithModule("loom-sources").Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("loom-sources")
	logger.InfoContext(ctx, "Initializing loom trigger sources", "sources", command.String("sources"))

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("initialize persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "loom-sources", logger)
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
	callback := triggerCallback(executions)

	manager := NewSourceManager(logger)
	refresh := command.Duration("refresh-interval")

	for _, name := range strings.Split(command.String("sources"), ",") {
		switch strings.TrimSpace(name) {
		case "schedule":
			manager.Add("schedule", schedule.NewSource(logger, persistence, refresh))
		case "queue":
			redisURL := command.String("redis-url")
			if redisURL == "" {
				return fmt.Errorf("the queue source requires --redis-url")
			}

			manager.Add("queue", queue.NewSource(logger, persistence, redisURL, refresh))
		case "chat":
			serverURL := command.String("mattermost-url")
			if serverURL == "" {
				return fmt.Errorf("the chat source requires --mattermost-url")
			}

			reader := mattermost.NewClient(serverURL, command.String("mattermost-token"))
			manager.Add("chat", chat.NewSource(logger, persistence, reader, command.Duration("poll-interval")))
		case "":
		default:
			return fmt.Errorf("unknown source %q", name)
		}
	}

	if err := manager.Start(ctx, callback); err != nil {
		return err
	}

	<-ctx.Done()

	return manager.Stop(context.WithoutCancel(ctx))
}

// triggerCallback adapts the execution service to the source callback.
// Trigger errors are returned to the source, which logs and carries on;
// a misbehaving workflow never stops its source.
func triggerCallback(executions *services.Execution) protocol.SourceCallback {
	return func(ctx context.Context, workflowID string, payload map[string]any) error {
		source, _ := payload["source"].(string)

		triggerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		_, err := executions.Trigger(triggerCtx, workflowID, payload, services.TriggerOptions{
			Source: source,
		})

		return err
	}
}
