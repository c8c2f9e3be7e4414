// Package events defines the event types exchanged between the API tier,
// trigger sources and workers.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/brianstittsr/loom/pkg/models"
)

type EventType string

// Topic is the single Kafka topic loom publishes on. In-process
// deployments reuse the same name on the GoChannel bus.
const Topic = "loom.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// WorkflowTriggeredEvent asks a runner to dispatch a queued execution.
	WorkflowTriggeredEvent EventType = "workflow.triggered"

	// Execution lifecycle events.
	ExecutionStartedEvent  EventType = "execution.started"
	ExecutionLogEvent      EventType = "execution.log"
	ExecutionFinishedEvent EventType = "execution.finished"
	ExecutionFailedEvent   EventType = "execution.failed"
	ExecutionCancelEvent   EventType = "execution.cancel"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// WorkflowTriggered is published after an execution has been persisted in
// the queued state. The runner loads the execution by ID; Source names the
// trigger origin (webhook, schedule, queue, chat or api).
type WorkflowTriggered struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Source      string `json:"source,omitempty"`
}

func (e WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkerID    string `json:"worker_id,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionLog relays a single log entry so an API tier in another
// process can feed its local stream hub.
type ExecutionLog struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	Entry       models.LogEntry `json:"entry"`
}

func (e ExecutionLog) GetType() EventType {
	return ExecutionLogEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Output      any                    `json:"output,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionCancel requests cooperative cancellation of a running
// execution. Whichever runner owns the execution stops it.
type ExecutionCancel struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancel) GetType() EventType {
	return ExecutionCancelEvent
}
