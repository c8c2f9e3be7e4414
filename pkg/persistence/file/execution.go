package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/brianstittsr/loom/pkg/models"
)

// ExecutionByID retrieves an execution by its ID. Absent ids yield
// (nil, nil). The persisted log is loaded alongside the document.
func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	body, err := os.ReadFile(p.executionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	var execution models.Execution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	execution.Log, err = p.ExecutionLog(ctx, id)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

// SaveExecution upserts an execution document. The log lives in its own
// append-only file and is not rewritten here.
func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	stored := *execution
	stored.Log = nil

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	return os.WriteFile(p.executionPath(execution.ID), data, fileMode)
}

// ExecutionsByWorkflow lists execution summaries for a workflow, newest
// first.
func (p *Persistence) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionSummary, error) {
	root := os.DirFS(p.root + "/executions")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	summaries := make([]*models.ExecutionSummary, 0)

	for _, name := range jsonFiles {
		executionID := name[:len(name)-5]

		execution, err := p.ExecutionByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if execution == nil || execution.WorkflowID != workflowID {
			continue
		}

		summaries = append(summaries, execution.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	return summaries, nil
}

// AppendExecutionLog appends one entry to the execution's JSONL log.
func (p *Persistence) AppendExecutionLog(_ context.Context, executionID string, entry *models.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry for execution %s: %w", executionID, err)
	}

	p.logMu.Lock()
	defer p.logMu.Unlock()

	f, err := os.OpenFile(p.logPath(executionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("failed to open log for execution %s: %w", executionID, err)
	}

	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log for execution %s: %w", executionID, err)
	}

	return nil
}

// ExecutionLog reads the persisted log ordered by Seq. A missing log file
// means no entries yet.
func (p *Persistence) ExecutionLog(_ context.Context, executionID string) ([]*models.LogEntry, error) {
	f, err := os.Open(p.logPath(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.LogEntry{}, nil
		}

		return nil, fmt.Errorf("failed to open log for execution %s: %w", executionID, err)
	}

	defer func() {
		_ = f.Close()
	}()

	entries := make([]*models.LogEntry, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry models.LogEntry

		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry for execution %s: %w", executionID, err)
		}

		entries = append(entries, &entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log for execution %s: %w", executionID, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})

	return entries, nil
}
