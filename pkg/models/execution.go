package models

import "time"

// ExecutionStatus represents the lifecycle state of a single execution.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status allows no further transition.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// Execution records one run of a workflow: the trigger payload that
// started it, the ordered log produced while walking the graph, and the
// final output value. After a terminal status only log reads are valid.
type Execution struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	WorkflowRevision int             `json:"workflow_revision"` // Revision of the workflow that was dispatched
	Status           ExecutionStatus `json:"status"`
	TriggerPayload   map[string]any  `json:"trigger_payload,omitempty"`
	Log              []*LogEntry     `json:"log,omitempty"`
	Output           any             `json:"output,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionSummary is the list projection of an execution.
type ExecutionSummary struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Status     ExecutionStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Summary builds the list projection for this execution.
func (e *Execution) Summary() *ExecutionSummary {
	return &ExecutionSummary{
		ID:         e.ID,
		WorkflowID: e.WorkflowID,
		Status:     e.Status,
		CreatedAt:  e.CreatedAt,
		FinishedAt: e.FinishedAt,
	}
}
