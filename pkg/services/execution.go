package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brianstittsr/loom/pkg/engine"
	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/events"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
)

// Execution implements the execution lifecycle operations: trigger, read,
// list, cancel. Running the graph is the runner's job; this service only
// queues work and announces it on the event bus. Execution errors never
// surface here, they are recorded on the execution itself.
type Execution struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	stream      *execlog.Stream
}

// NewExecution creates a new execution service. The publisher may be nil
// in tests; announcements are then skipped.
func NewExecution(persistence persistence.Persistence, publisher eventbus.EventPublisher, stream *execlog.Stream) *Execution {
	return &Execution{
		persistence: persistence,
		publisher:   publisher,
		stream:      stream,
	}
}

// TriggerOptions modify how an execution is queued.
type TriggerOptions struct {
	// TestRun bypasses the active-status requirement so draft workflows
	// can be exercised from the editor.
	TestRun bool

	// Source names what fired the workflow: api, webhook, schedule,
	// queue or chat. Defaults to api.
	Source string
}

// Trigger queues a new execution of a workflow and returns it
// immediately; completion is observed through the log stream or by
// polling. The workflow must be active unless opts.TestRun is set.
func (e *Execution) Trigger(ctx context.Context, workflowID string, payload map[string]any, opts TriggerOptions) (*models.Execution, error) {
	workflow, err := e.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if workflow.Status != models.WorkflowStatusActive && !opts.TestRun {
		return nil, fmt.Errorf("workflow %s has status %q: %w", workflowID, workflow.Status, ErrWorkflowNotActive)
	}

	source := opts.Source
	if source == "" {
		source = "api"
	}

	execution := &models.Execution{
		ID:               uuid.New().String(),
		WorkflowID:       workflow.ID,
		WorkflowRevision: workflow.Revision,
		Status:           models.ExecutionStatusQueued,
		TriggerPayload:   payload,
		CreatedAt:        time.Now().UTC(),
	}

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to queue execution: %w", err)
	}

	if err := e.publish(ctx, workflow.ID, events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, workflow.ID),
		ExecutionID: execution.ID,
		Source:      source,
	}); err != nil {
		return nil, fmt.Errorf("failed to announce execution %s: %w", execution.ID, err)
	}

	return execution, nil
}

// FetchByID retrieves an execution with its full log attached.
func (e *Execution) FetchByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := e.persistence.ExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, ErrExecutionNotFound
	}

	entries, err := e.persistence.ExecutionLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load log of execution %s: %w", id, err)
	}

	execution.Log = entries

	return execution, nil
}

// ListByWorkflow retrieves the execution summaries of a workflow, newest
// first.
func (e *Execution) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionSummary, error) {
	workflow, err := e.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return e.persistence.ExecutionsByWorkflow(ctx, workflowID)
}

// Cancel requests cooperative cancellation. A queued execution fails on
// the spot; a running one is cancelled by whichever runner owns it, via
// the execution.cancel event. Already-sent side effects stand either way.
func (e *Execution) Cancel(ctx context.Context, executionID string) error {
	execution, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution == nil {
		return ErrExecutionNotFound
	}

	if execution.Status.IsTerminal() {
		return fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrExecutionFinished)
	}

	if execution.Status == models.ExecutionStatusQueued {
		if err := e.failBeforeStart(ctx, execution); err != nil {
			return err
		}
	}

	// Published for queued executions too: a runner may have picked the
	// execution up between our status read and now.
	return e.publish(ctx, execution.WorkflowID, events.ExecutionCancel{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelEvent, execution.WorkflowID),
		ExecutionID: executionID,
		Reason:      "requested through the API",
	})
}

// failBeforeStart terminates an execution that never reached a runner.
func (e *Execution) failBeforeStart(ctx context.Context, execution *models.Execution) error {
	if _, err := e.stream.Append(ctx, execution.ID, models.LogEntry{
		Level:   models.LogLevelError,
		Message: "execution cancelled before start",
	}); err != nil {
		return fmt.Errorf("failed to log cancellation of execution %s: %w", execution.ID, err)
	}

	finished := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.Error = engine.ErrCancelled.Error()
	execution.FinishedAt = &finished

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to cancel execution %s: %w", execution.ID, err)
	}

	e.stream.Finish(execution.ID, execution.Status)

	return nil
}

func (e *Execution) publish(ctx context.Context, workflowID string, event eventbus.Event) error {
	if e.publisher == nil {
		return nil
	}

	return e.publisher.Publish(ctx, workflowID, event)
}
