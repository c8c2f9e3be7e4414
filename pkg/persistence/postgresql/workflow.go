package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
)

// Workflows returns paginated and filtered workflow summaries, newest
// update first. The node count is computed in SQL from the JSONB column.
func (p *Persistence) Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.WorkflowSummary, error) {
	filter = filter.Normalize()

	query := `
		SELECT
			id
		  , name
		  , status
		  , jsonb_array_length(nodes)
		  , updated_at
		FROM workflows
		WHERE ($1 = '' OR team_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4
	`

	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	rows, err := p.db.QueryContext(ctx, query, filter.TeamID, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	summaries := make([]*models.WorkflowSummary, 0)

	for rows.Next() {
		var summary models.WorkflowSummary

		err := rows.Scan(&summary.ID, &summary.Name, &summary.Status, &summary.NodeCount, &summary.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow summary: %w", err)
		}

		summaries = append(summaries, &summary)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return summaries, nil
}

// WorkflowByID returns a workflow by its ID, or (nil, nil) when absent.
func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , status
		  , nodes
		  , owner
		  , team_id
		  , revision
		  , created_at
		  , updated_at
		FROM workflows
		WHERE id = $1
	`

	var (
		workflow  models.Workflow
		nodesJSON []byte
	)

	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&nodesJSON,
		&workflow.Owner,
		&workflow.TeamID,
		&workflow.Revision,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	err = json.Unmarshal(nodesJSON, &workflow.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes for workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// SaveWorkflow upserts the workflow document in a single atomic row write.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	nodesJSON, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes for workflow %s: %w", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (id, name, description, status, nodes, owner, team_id, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			nodes = EXCLUDED.nodes,
			owner = EXCLUDED.owner,
			team_id = EXCLUDED.team_id,
			revision = EXCLUDED.revision,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		nodesJSON,
		workflow.Owner,
		workflow.TeamID,
		workflow.Revision,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// DeleteWorkflow removes a workflow row. Deleting an absent id is not an
// error.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}
