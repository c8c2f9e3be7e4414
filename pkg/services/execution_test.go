package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/engine"
	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/events"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/persistence/file"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) ofType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func newExecutionService(t *testing.T) (*Execution, persistence.Persistence, *capturePublisher, *execlog.Stream) {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	publisher := &capturePublisher{}
	stream := execlog.NewStream(slog.Default(), store)

	return NewExecution(store, publisher, stream), store, publisher, stream
}

func saveWorkflow(t *testing.T, store persistence.Persistence, id string, status models.WorkflowStatus) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:       id,
		Name:     "stored workflow",
		Status:   status,
		Nodes:    []*models.WorkflowNode{triggerNode("start")},
		Revision: 3,
	}
	require.NoError(t, store.SaveWorkflow(t.Context(), workflow))

	return workflow
}

func TestExecution_TriggerQueuesAndAnnounces(t *testing.T) {
	service, store, publisher, _ := newExecutionService(t)
	saveWorkflow(t, store, "wf-1", models.WorkflowStatusActive)

	execution, err := service.Trigger(t.Context(), "wf-1", map[string]any{"value": 7}, TriggerOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusQueued, execution.Status)
	assert.Equal(t, 3, execution.WorkflowRevision)

	stored, err := store.ExecutionByID(t.Context(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ExecutionStatusQueued, stored.Status)

	triggered := publisher.ofType(events.WorkflowTriggeredEvent)
	require.Len(t, triggered, 1)

	event, ok := triggered[0].(events.WorkflowTriggered)
	require.True(t, ok)
	assert.Equal(t, execution.ID, event.ExecutionID)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "api", event.Source)
}

func TestExecution_TriggerRequiresActiveWorkflow(t *testing.T) {
	service, store, _, _ := newExecutionService(t)
	saveWorkflow(t, store, "wf-draft", models.WorkflowStatusDraft)

	_, err := service.Trigger(t.Context(), "wf-draft", nil, TriggerOptions{})
	require.ErrorIs(t, err, ErrWorkflowNotActive)
	assert.True(t, IsConflictError(err))
}

func TestExecution_TestRunBypassesActiveCheck(t *testing.T) {
	service, store, publisher, _ := newExecutionService(t)
	saveWorkflow(t, store, "wf-draft", models.WorkflowStatusDraft)

	execution, err := service.Trigger(t.Context(), "wf-draft", nil, TriggerOptions{TestRun: true, Source: "api"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusQueued, execution.Status)
	assert.Len(t, publisher.ofType(events.WorkflowTriggeredEvent), 1)
}

func TestExecution_TriggerUnknownWorkflow(t *testing.T) {
	service, _, _, _ := newExecutionService(t)

	_, err := service.Trigger(t.Context(), "ghost", nil, TriggerOptions{})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecution_FetchByIDAttachesLog(t *testing.T) {
	service, store, _, stream := newExecutionService(t)

	execution := &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveExecution(t.Context(), execution))

	_, err := stream.Append(t.Context(), "exec-1", models.LogEntry{Level: models.LogLevelInfo, Message: "first"})
	require.NoError(t, err)
	_, err = stream.Append(t.Context(), "exec-1", models.LogEntry{Level: models.LogLevelInfo, Message: "second"})
	require.NoError(t, err)

	fetched, err := service.FetchByID(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, fetched.Log, 2)
	assert.Equal(t, "first", fetched.Log[0].Message)
	assert.Equal(t, "second", fetched.Log[1].Message)
}

func TestExecution_FetchByIDUnknown(t *testing.T) {
	service, _, _, _ := newExecutionService(t)

	_, err := service.FetchByID(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecution_ListByWorkflow(t *testing.T) {
	service, store, _, _ := newExecutionService(t)
	saveWorkflow(t, store, "wf-1", models.WorkflowStatusActive)
	saveWorkflow(t, store, "wf-2", models.WorkflowStatusActive)

	for _, id := range []string{"exec-a", "exec-b"} {
		require.NoError(t, store.SaveExecution(t.Context(), &models.Execution{
			ID:         id,
			WorkflowID: "wf-1",
			Status:     models.ExecutionStatusSucceeded,
			CreatedAt:  time.Now().UTC(),
		}))
	}

	require.NoError(t, store.SaveExecution(t.Context(), &models.Execution{
		ID:         "exec-other",
		WorkflowID: "wf-2",
		Status:     models.ExecutionStatusSucceeded,
		CreatedAt:  time.Now().UTC(),
	}))

	summaries, err := service.ListByWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	_, err = service.ListByWorkflow(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecution_CancelQueuedFailsImmediately(t *testing.T) {
	service, store, publisher, _ := newExecutionService(t)

	require.NoError(t, store.SaveExecution(t.Context(), &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}))

	require.NoError(t, service.Cancel(t.Context(), "exec-1"))

	stored, err := store.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, engine.ErrCancelled.Error(), stored.Error)
	require.NotNil(t, stored.FinishedAt)

	entries, err := store.ExecutionLog(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "cancelled before start")

	assert.Len(t, publisher.ofType(events.ExecutionCancelEvent), 1)
}

func TestExecution_CancelRunningPublishesOnly(t *testing.T) {
	service, store, publisher, _ := newExecutionService(t)

	require.NoError(t, store.SaveExecution(t.Context(), &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}))

	require.NoError(t, service.Cancel(t.Context(), "exec-1"))

	stored, err := store.ExecutionByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status, "the owning runner terminates it, not the API")

	cancels := publisher.ofType(events.ExecutionCancelEvent)
	require.Len(t, cancels, 1)

	event, ok := cancels[0].(events.ExecutionCancel)
	require.True(t, ok)
	assert.Equal(t, "exec-1", event.ExecutionID)
}

func TestExecution_CancelFinishedConflicts(t *testing.T) {
	service, store, _, _ := newExecutionService(t)

	require.NoError(t, store.SaveExecution(t.Context(), &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusSucceeded,
		CreatedAt:  time.Now().UTC(),
	}))

	err := service.Cancel(t.Context(), "exec-1")
	require.ErrorIs(t, err, ErrExecutionFinished)
	assert.True(t, IsConflictError(err))
}

func TestExecution_CancelUnknown(t *testing.T) {
	service, _, _, _ := newExecutionService(t)

	err := service.Cancel(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}
