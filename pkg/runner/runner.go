// Package runner consumes workflow.triggered events and drives queued
// executions through the engine dispatcher. One Runner serves one
// process: the dedicated worker daemon, or the API process in embedded
// mode.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brianstittsr/loom/pkg/engine"
	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/events"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/otelhelper"
	"github.com/brianstittsr/loom/pkg/persistence"
)

// DefaultConcurrency bounds simultaneously running executions per runner.
const DefaultConcurrency = 8

type Runner struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	dispatcher  *engine.Dispatcher
	stream      *execlog.Stream
	slots       chan struct{}
	tracer      trace.Tracer
}

// NewRunner wires a runner. Concurrency <= 0 selects the default bound.
func NewRunner(
	id string,
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	dispatcher *engine.Dispatcher,
	stream *execlog.Stream,
	concurrency int,
) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Runner{
		id:          id,
		logger:      logger.With("module", "runner", "worker_id", id),
		persistence: persistence,
		eventBus:    eventBus,
		dispatcher:  dispatcher,
		stream:      stream,
		slots:       make(chan struct{}, concurrency),
	}
}

// WithTracer enables per-execution spans. A nil tracer leaves tracing
// off.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	r.tracer = tracer

	return r
}

// Register installs the runner's event handlers without consuming. Use it
// when another component shares the bus and calls Subscribe once for all.
func (r *Runner) Register() error {
	if err := r.eventBus.Handle(events.WorkflowTriggeredEvent, r.handleWorkflowTriggered); err != nil {
		return fmt.Errorf("register workflow.triggered handler: %w", err)
	}

	if err := r.eventBus.Handle(events.ExecutionCancelEvent, r.handleExecutionCancel); err != nil {
		return fmt.Errorf("register execution.cancel handler: %w", err)
	}

	return nil
}

// Start registers the handlers and begins consuming the event bus. It
// returns once the subscription is established; consumption runs in the
// background until ctx ends.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.Register(); err != nil {
		return err
	}

	if err := r.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe to event bus: %w", err)
	}

	r.logger.Info("Runner started", "concurrency", cap(r.slots))

	return nil
}

// Drain waits until every in-flight execution has finished or ctx ends.
func (r *Runner) Drain(ctx context.Context) error {
	for i := 0; i < cap(r.slots); i++ {
		select {
		case r.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i := 0; i < cap(r.slots); i++ {
		<-r.slots
	}

	return nil
}

// Active reports how many executions this runner is currently walking.
func (r *Runner) Active() int {
	return len(r.slots)
}

// handleWorkflowTriggered picks up a queued execution and runs it on its
// own goroutine. The message is acked as soon as the execution is
// admitted; a runner crash mid-run leaves the execution in the running
// state rather than redelivering it to a sibling.
func (r *Runner) handleWorkflowTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.WorkflowTriggered)
	if !ok {
		r.logger.Error("Invalid event payload for workflow.triggered")

		return nil
	}

	logger := r.logger.With("execution_id", triggered.ExecutionID, "workflow_id", triggered.WorkflowID)
	logger.Info("Processing workflow trigger", "source", triggered.Source)

	execution, err := r.persistence.ExecutionByID(ctx, triggered.ExecutionID)
	if err != nil {
		logger.Error("Failed to load execution", "error", err)

		return err
	}

	if execution == nil {
		logger.Warn("Execution not found; dropping trigger")

		return nil
	}

	// A cancel may have landed first, or this is a redelivery of an
	// execution another runner already picked up.
	if execution.Status != models.ExecutionStatusQueued {
		logger.Info("Execution no longer queued; skipping", "status", string(execution.Status))

		return nil
	}

	workflow, err := r.persistence.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		logger.Error("Failed to load workflow", "error", err)

		return err
	}

	if workflow == nil {
		logger.Error("Workflow no longer exists; failing execution")

		return r.failExecution(ctx, execution, fmt.Sprintf("workflow %s no longer exists", execution.WorkflowID))
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	go func() {
		defer func() { <-r.slots }()

		runCtx := ctx

		var span trace.Span
		if r.tracer != nil {
			runCtx, span = otelhelper.StartSpan(ctx, r.tracer, "execution.run",
				attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
				attribute.String(otelhelper.ExecutionIDKey, execution.ID),
				attribute.String(otelhelper.WorkerIDKey, r.id),
			)
			defer span.End()
		}

		if err := r.dispatcher.Run(runCtx, workflow, execution); err != nil {
			if span != nil {
				otelhelper.SetError(span, err)
			}

			logger.Error("Execution run failed", "error", err)
		}
	}()

	return nil
}

// handleExecutionCancel forwards a cancellation request to the
// dispatcher. Not owning the execution is normal when several runners
// share the bus.
func (r *Runner) handleExecutionCancel(_ context.Context, event any) error {
	cancel, ok := event.(*events.ExecutionCancel)
	if !ok {
		r.logger.Error("Invalid event payload for execution.cancel")

		return nil
	}

	logger := r.logger.With("execution_id", cancel.ExecutionID)

	if r.dispatcher.Cancel(cancel.ExecutionID) {
		logger.Info("Cancelled execution", "reason", cancel.Reason)
	} else {
		logger.Debug("Execution not running on this worker")
	}

	return nil
}

// failExecution terminates an execution that cannot be dispatched at all.
func (r *Runner) failExecution(ctx context.Context, execution *models.Execution, message string) error {
	if _, err := r.stream.Append(ctx, execution.ID, models.LogEntry{
		Level:   models.LogLevelError,
		Message: message,
	}); err != nil {
		r.logger.Error("Failed to append execution log entry", "execution_id", execution.ID, "error", err)
	}

	finished := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.Error = message
	execution.FinishedAt = &finished

	if err := r.persistence.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("persist terminal state of execution %s: %w", execution.ID, err)
	}

	r.stream.Finish(execution.ID, execution.Status)

	r.publish(ctx, execution.WorkflowID, events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Status:      execution.Status,
		DurationMs:  0,
	})
	r.publish(ctx, execution.WorkflowID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Error:       message,
		DurationMs:  0,
	})

	return nil
}

func (r *Runner) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if err := r.eventBus.Publish(ctx, workflowID, event); err != nil {
		r.logger.Error("Failed to publish event", "event_type", string(event.GetType()), "error", err)
	}
}
