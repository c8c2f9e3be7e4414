// Package models defines the core domain models for node-based workflow automation
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not triggerable
	WorkflowStatusActive   WorkflowStatus = "active"   // Triggerable by API, webhooks and sources
	WorkflowStatusDisabled WorkflowStatus = "disabled" // Retained but never triggered
)

// Workflow represents a directed graph of typed nodes owned by a team.
// Edges are encoded as each node's ordered successor list.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Status      WorkflowStatus  `json:"status"      validate:"required"`
	Nodes       []*WorkflowNode `json:"nodes"`
	Owner       string          `json:"owner"`   // User that created the workflow
	TeamID      string          `json:"team_id"` // Owning team reference
	Revision    int             `json:"revision"` // Incremented on every committed update
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil when absent.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNodes returns the workflow's entry points in definition order.
func (w *Workflow) TriggerNodes() []*WorkflowNode {
	triggers := make([]*WorkflowNode, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// Clone returns a deep copy of the workflow. The dispatcher snapshots a
// workflow at dispatch start so concurrent edits never alter an in-flight
// run.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Nodes = make([]*WorkflowNode, len(w.Nodes))

	for i, node := range w.Nodes {
		clone.Nodes[i] = node.Clone()
	}

	return &clone
}

// WorkflowSummary is the list projection of a workflow.
type WorkflowSummary struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	NodeCount int            `json:"node_count"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Summary builds the list projection for this workflow.
func (w *Workflow) Summary() *WorkflowSummary {
	return &WorkflowSummary{
		ID:        w.ID,
		Name:      w.Name,
		Status:    w.Status,
		NodeCount: len(w.Nodes),
		UpdatedAt: w.UpdatedAt,
	}
}
