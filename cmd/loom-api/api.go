// Package main runs the loom REST API, optionally with an embedded
// execution runner so a single binary over the in-process event bus is
// fully functional.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/brianstittsr/loom/pkg/engine"
	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/registry"
	"github.com/brianstittsr/loom/pkg/runner"
	"github.com/brianstittsr/loom/pkg/services"
	"github.com/brianstittsr/loom/pkg/web"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	workerID    string
	embedRunner bool
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	workerID string,
	embedRunner bool,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		workerID:    workerID,
		embedRunner: embedRunner,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Start assembles the services, registers the event handlers this
// process needs, and serves until ctx ends.
func (a *API) Start(ctx context.Context, port int) error {
	stream := execlog.NewStream(a.logger, a.persistence)
	workflowService := services.NewWorkflow(a.persistence, a.registry)
	executionService := services.NewExecution(a.persistence, a.eventBus, stream)

	// The relay feeds worker-side log events into the local stream hub so
	// SSE subscribers see entries regardless of which process ran the
	// execution.
	relay := runner.NewRelay(a.logger, a.eventBus, stream)
	if err := relay.Register(); err != nil {
		return fmt.Errorf("register log relay: %w", err)
	}

	var active func() int

	if a.embedRunner {
		dispatcher := engine.NewDispatcher(a.logger, a.workerID, a.persistence, a.registry, stream, a.eventBus)

		embedded := runner.NewRunner(a.workerID, a.logger, a.persistence, a.eventBus, dispatcher, stream, 0)
		if err := embedded.Register(); err != nil {
			return fmt.Errorf("register embedded runner: %w", err)
		}

		active = embedded.Active

		a.logger.Info("Embedded execution runner enabled", "worker_id", a.workerID)
	}

	if err := a.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe to event bus: %w", err)
	}

	handlers := web.NewAPIHandlers(workflowService, executionService, stream, a.registry, a.validate, active)
	app := a.app(handlers)

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(port))
	}()

	a.logger.Info("API server listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

func (a *API) app(handlers *web.APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("loom API")
	})

	handlers.Register(app)

	return app
}
