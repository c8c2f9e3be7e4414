package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/registry"
)

// Workflow implements the workflow store operations: create, read, update,
// list, delete, plus the graph validation gate that keeps every persisted
// workflow structurally executable.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, registry *registry.Registry) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateWorkflowRequest contains the fields for creating a workflow. New
// workflows always start as drafts; activation goes through Update so the
// trigger-node rule applies.
type CreateWorkflowRequest struct {
	Name        string `validate:"required,min=3"`
	Description string
	Owner       string
	TeamID      string
	Nodes       []*models.WorkflowNode
}

// Create persists a new draft workflow at revision 1.
func (w *Workflow) Create(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := w.validate.Struct(req); err != nil {
		return nil, NewValidationError("Create", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Status:      models.WorkflowStatusDraft,
		Nodes:       req.Nodes,
		Owner:       req.Owner,
		TeamID:      req.TeamID,
		Revision:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.ValidateGraph(workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// UpdateWorkflowRequest is a partial update. Nil fields leave the current
// value untouched; a non-nil Nodes slice replaces the whole node set (an
// empty non-nil slice removes every node).
type UpdateWorkflowRequest struct {
	Name        *string
	Description *string
	Status      *models.WorkflowStatus
	Nodes       []*models.WorkflowNode
}

// Update applies a patch to a workflow. The patched graph is validated in
// full before anything is persisted, so a rejected update leaves the
// stored workflow byte-for-byte unchanged. On success the revision
// increments and UpdatedAt refreshes. Concurrent updates are
// last-write-wins per call.
func (w *Workflow) Update(ctx context.Context, workflowID string, req UpdateWorkflowRequest) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	updated := existing.Clone()

	if req.Name != nil {
		updated.Name = *req.Name
	}

	if req.Description != nil {
		updated.Description = *req.Description
	}

	if req.Status != nil {
		if !validWorkflowStatus(*req.Status) {
			return nil, NewValidationError("Update", "INVALID_STATUS",
				fmt.Sprintf("invalid status %q, allowed: draft, active, disabled", *req.Status), ErrInvalidStatus)
		}

		updated.Status = *req.Status
	}

	if req.Nodes != nil {
		updated.Nodes = req.Nodes
	}

	if err := w.ValidateGraph(updated); err != nil {
		return nil, err
	}

	updated.Revision = existing.Revision + 1
	updated.UpdatedAt = time.Now().UTC()

	if err := w.persistence.SaveWorkflow(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update workflow %s: %w", workflowID, err)
	}

	return updated, nil
}

// List retrieves workflow summaries ordered by last modification, newest
// first. The filter's limit is clamped by the persistence layer.
func (w *Workflow) List(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.WorkflowSummary, error) {
	if filter.Status != nil && !validWorkflowStatus(*filter.Status) {
		return nil, NewValidationError("List", "INVALID_STATUS",
			fmt.Sprintf("invalid status %q, allowed: draft, active, disabled", *filter.Status), ErrInvalidStatus)
	}

	summaries, err := w.persistence.Workflows(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return summaries, nil
}

// Delete removes a workflow by its ID. Deleting an absent workflow is not
// an error.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if err := w.persistence.DeleteWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	return nil
}

// ValidateGraph checks the structural rules every stored workflow must
// satisfy: unique node ids, successor references that resolve, exactly two
// successors on condition nodes, node configs that pass their kind's
// schema, and at least one trigger node when the workflow is active.
func (w *Workflow) ValidateGraph(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if err := w.validate.Struct(workflow); err != nil {
		return NewValidationError("ValidateGraph", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	var issues []string

	ids := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if node.ID == "" {
			issues = append(issues, "node with empty id")

			continue
		}

		if ids[node.ID] {
			issues = append(issues, fmt.Sprintf("duplicate node id %q", node.ID))

			continue
		}

		ids[node.ID] = true
	}

	hasTrigger := false

	for _, node := range workflow.Nodes {
		if node.IsTrigger() {
			hasTrigger = true
		}

		for _, successor := range node.Successors {
			if !ids[successor] {
				issues = append(issues, fmt.Sprintf("node %q references unknown successor %q", node.ID, successor))
			}
		}

		if node.Type == models.NodeTypeCondition && len(node.Successors) != 2 {
			issues = append(issues, fmt.Sprintf("condition node %q must have exactly two successors, has %d",
				node.ID, len(node.Successors)))
		}

		if err := w.registry.ValidateConfig(node.Kind(), node.Config); err != nil {
			issues = append(issues, fmt.Sprintf("node %q: %v", node.ID, err))
		}
	}

	if workflow.Status == models.WorkflowStatusActive && !hasTrigger {
		issues = append(issues, "active workflow must have at least one trigger node")
	}

	if len(issues) > 0 {
		return NewValidationError("ValidateGraph", "INVALID_GRAPH", strings.Join(issues, "; "), ErrInvalidGraph)
	}

	return nil
}

func validWorkflowStatus(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusDisabled:
		return true
	default:
		return false
	}
}
