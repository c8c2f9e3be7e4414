package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/brianstittsr/loom/pkg/models"
)

// ExecutionByID returns an execution with its persisted log, or
// (nil, nil) when absent.
func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , workflow_revision
		  , status
		  , trigger_payload
		  , output
		  , error
		  , created_at
		  , started_at
		  , finished_at
		FROM workflow_executions
		WHERE id = $1
	`

	var (
		execution   models.Execution
		payloadJSON []byte
		outputJSON  []byte
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkflowRevision,
		&execution.Status,
		&payloadJSON,
		&outputJSON,
		&execution.Error,
		&execution.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &execution.TriggerPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger payload for execution %s: %w", id, err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output for execution %s: %w", id, err)
		}
	}

	execution.Log, err = p.ExecutionLog(ctx, id)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

// SaveExecution upserts the execution row. The log lives in
// workflow_logs and is not touched here.
func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	payloadJSON, err := json.Marshal(execution.TriggerPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger payload for execution %s: %w", execution.ID, err)
	}

	outputJSON, err := json.Marshal(execution.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output for execution %s: %w", execution.ID, err)
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, workflow_revision, status, trigger_payload, output, error, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			trigger_payload = EXCLUDED.trigger_payload,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = p.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowRevision,
		execution.Status,
		payloadJSON,
		outputJSON,
		execution.Error,
		execution.CreatedAt,
		execution.StartedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

// ExecutionsByWorkflow lists execution summaries newest first.
func (p *Persistence) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionSummary, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , status
		  , created_at
		  , finished_at
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`

	rows, err := p.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for workflow %s: %w", workflowID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	summaries := make([]*models.ExecutionSummary, 0)

	for rows.Next() {
		var (
			summary    models.ExecutionSummary
			finishedAt sql.NullTime
		)

		err := rows.Scan(&summary.ID, &summary.WorkflowID, &summary.Status, &summary.CreatedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}

		if finishedAt.Valid {
			summary.FinishedAt = &finishedAt.Time
		}

		summaries = append(summaries, &summary)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return summaries, nil
}

// AppendExecutionLog inserts one log entry with its caller-assigned seq.
func (p *Persistence) AppendExecutionLog(ctx context.Context, executionID string, entry *models.LogEntry) error {
	query := `
		INSERT INTO workflow_logs (execution_id, seq, timestamp, level, message, node_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`

	_, err := p.db.ExecContext(ctx, query,
		executionID,
		entry.Seq,
		entry.Timestamp,
		entry.Level,
		entry.Message,
		entry.NodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to append log for execution %s: %w", executionID, err)
	}

	return nil
}

// ExecutionLog returns the persisted log ordered by seq.
func (p *Persistence) ExecutionLog(ctx context.Context, executionID string) ([]*models.LogEntry, error) {
	query := `
		SELECT
			seq
		  , timestamp
		  , level
		  , message
		  , COALESCE(node_id, '')
		FROM workflow_logs
		WHERE execution_id = $1
		ORDER BY seq ASC
	`

	rows, err := p.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log for execution %s: %w", executionID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		var entry models.LogEntry

		err := rows.Scan(&entry.Seq, &entry.Timestamp, &entry.Level, &entry.Message, &entry.NodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}
