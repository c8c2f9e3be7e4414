// Package web provides the REST handlers for workflow and execution
// management.
package web

import "github.com/brianstittsr/loom/pkg/models"

// CreateWorkflowRequest is the body of POST /workflows. Nodes may be
// supplied up front or attached later through PATCH.
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	Owner       string                 `json:"owner"`
	TeamID      string                 `json:"team_id"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
}

// UpdateWorkflowRequest is the body of PATCH /workflows/:id. Absent fields
// keep their current value; a non-null nodes array replaces the whole node
// set and is validated as a complete graph before anything is stored.
type UpdateWorkflowRequest struct {
	Name        *string                `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                `json:"description,omitempty"`
	Status      *models.WorkflowStatus `json:"status,omitempty"`
	Nodes       []*models.WorkflowNode `json:"nodes,omitempty"`
}

// ExecuteWorkflowRequest is the body of POST /workflows/:id/execute. An
// empty body queues an execution with a nil payload.
type ExecuteWorkflowRequest struct {
	Payload map[string]any `json:"payload"`

	// TestRun queues the execution even when the workflow is not active.
	TestRun bool `json:"test_run"`
}

// InstantiateBlueprintRequest is the body of
// POST /workflows/from-blueprint/:blueprintID. An empty name keeps the
// blueprint's own name.
type InstantiateBlueprintRequest struct {
	Name   string `json:"name"   validate:"omitempty,min=3"`
	Owner  string `json:"owner"`
	TeamID string `json:"team_id"`
}

// NodeKindResponse describes one registered node kind in the catalog
// served by GET /node-kinds.
type NodeKindResponse struct {
	Kind        string         `json:"kind"`
	Type        string         `json:"type"`
	Subtype     string         `json:"subtype"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
	Defaults    map[string]any `json:"defaults"`
}
