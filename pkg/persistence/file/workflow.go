package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
)

// Workflows returns paginated and filtered workflow summaries, newest
// update first. Everything happens in memory, which is fine at the scale
// a file store serves.
func (p *Persistence) Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.WorkflowSummary, error) {
	filter = filter.Normalize()

	root := os.DirFS(p.root + "/workflows")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	matched := make([]*models.Workflow, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		workflowID := name[:len(name)-5] // strip .json

		workflow, err := p.WorkflowByID(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if workflow == nil {
			continue
		}

		if filter.TeamID != "" && workflow.TeamID != filter.TeamID {
			continue
		}

		if filter.Status != nil && workflow.Status != *filter.Status {
			continue
		}

		matched = append(matched, workflow)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}

	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}

	summaries := make([]*models.WorkflowSummary, 0, end-start)
	for _, workflow := range matched[start:end] {
		summaries = append(summaries, workflow.Summary())
	}

	return summaries, nil
}

// WorkflowByID retrieves a workflow by its ID. Absent ids yield (nil, nil).
func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	body, err := os.ReadFile(p.workflowPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// SaveWorkflow upserts a workflow document.
func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = now
	}

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	return os.WriteFile(p.workflowPath(workflow.ID), data, fileMode)
}

// DeleteWorkflow removes a workflow by its ID. Deleting an absent
// workflow is not an error.
func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	err := os.Remove(p.workflowPath(id))
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}
