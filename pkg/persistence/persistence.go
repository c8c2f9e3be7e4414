// Package persistence provides the storage abstraction for workflows,
// executions and execution logs.
package persistence

import (
	"context"

	"github.com/brianstittsr/loom/pkg/models"
)

const (
	// DefaultListLimit applies when a filter does not set one.
	DefaultListLimit = 20

	// MaxListLimit caps a caller-provided limit.
	MaxListLimit = 100
)

// WorkflowFilter narrows workflow listings. Zero values mean "no filter".
type WorkflowFilter struct {
	TeamID string
	Status *models.WorkflowStatus
	Limit  int
	Offset int
}

// Normalize clamps the limit into the allowed range.
func (f WorkflowFilter) Normalize() WorkflowFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}

	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}

	if f.Offset < 0 {
		f.Offset = 0
	}

	return f
}

// Persistence is the storage contract shared by the file and PostgreSQL
// implementations. Lookups by id return (nil, nil) when the record is
// absent; sentinel errors are reserved for the service layer.
type Persistence interface {
	// Workflows lists workflow summaries ordered by last modification,
	// newest first.
	Workflows(ctx context.Context, filter WorkflowFilter) ([]*models.WorkflowSummary, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	// SaveWorkflow upserts; concurrent saves of the same id are
	// last-write-wins.
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	// DeleteWorkflow is idempotent; deleting an absent id is not an error.
	DeleteWorkflow(ctx context.Context, id string) error

	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	SaveExecution(ctx context.Context, execution *models.Execution) error
	// ExecutionsByWorkflow lists execution summaries newest first.
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionSummary, error)

	// AppendExecutionLog persists one log entry. Seq is assigned by the
	// caller (the log stream) and is strictly increasing per execution.
	AppendExecutionLog(ctx context.Context, executionID string, entry *models.LogEntry) error
	// ExecutionLog returns the persisted log ordered by Seq.
	ExecutionLog(ctx context.Context, executionID string) ([]*models.LogEntry, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
