// Package blueprint ships the built-in workflow templates. A blueprint is
// a ready-made graph for a common automation scenario; instantiating one
// produces an ordinary draft workflow the owner can edit and activate.
package blueprint

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brianstittsr/loom/pkg/models"
)

// ErrBlueprintNotFound is returned when no blueprint carries the
// requested id.
var ErrBlueprintNotFound = fmt.Errorf("blueprint not found")

// Blueprint is a named workflow template.
type Blueprint struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
}

// All returns the catalog in stable order.
func All() []*Blueprint {
	return []*Blueprint{
		ContentSummarizer(),
		SentimentAnalyzer(),
		AutomatedResponder(),
		DataProcessor(),
		MeetingScheduler(),
		CodeReviewer(),
		CustomerSupport(),
		ContentModerator(),
	}
}

// ByID returns the blueprint with the given id.
func ByID(id string) (*Blueprint, error) {
	for _, b := range All() {
		if b.ID == id {
			return b, nil
		}
	}

	return nil, fmt.Errorf("blueprint %q: %w", id, ErrBlueprintNotFound)
}

// Instantiate builds a draft workflow from the blueprint. Node ids are
// regenerated so two instances never share ids, and successor references
// are rewritten to match. An empty name falls back to the blueprint name.
func (b *Blueprint) Instantiate(name, owner, teamID string) *models.Workflow {
	if name == "" {
		name = b.Name
	}

	rename := make(map[string]string, len(b.Nodes))
	for _, node := range b.Nodes {
		rename[node.ID] = uuid.New().String()
	}

	nodes := make([]*models.WorkflowNode, 0, len(b.Nodes))

	for _, node := range b.Nodes {
		clone := node.Clone()
		clone.ID = rename[node.ID]

		for i, successor := range clone.Successors {
			clone.Successors[i] = rename[successor]
		}

		nodes = append(nodes, clone)
	}

	now := time.Now().UTC()

	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: b.Description,
		Status:      models.WorkflowStatusDraft,
		Nodes:       nodes,
		Owner:       owner,
		TeamID:      teamID,
		Revision:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
