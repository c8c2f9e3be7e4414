package queue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence/file"
)

func queueWorkflow(id, queue string, status models.WorkflowStatus) *models.Workflow {
	now := time.Now().UTC()

	return &models.Workflow{
		ID:     id,
		Name:   "Queue workflow",
		Status: status,
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeTrigger, Subtype: "queue", Config: map[string]any{"queue": queue}},
		},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestQueueBindings(t *testing.T) {
	workflows := []*models.Workflow{
		queueWorkflow("wf-1", "orders", models.WorkflowStatusActive),
		queueWorkflow("wf-2", "orders", models.WorkflowStatusActive),
		queueWorkflow("wf-3", "alerts", models.WorkflowStatusActive),
		{
			ID:     "wf-4",
			Status: models.WorkflowStatusActive,
			Nodes: []*models.WorkflowNode{
				{ID: "start", Type: models.NodeTypeTrigger, Subtype: "queue", Config: map[string]any{}},
			},
		},
	}

	bindings := queueBindings(workflows)

	assert.Equal(t, []string{"wf-1", "wf-2"}, bindings["orders"])
	assert.Equal(t, []string{"wf-3"}, bindings["alerts"])
	assert.Len(t, bindings, 2, "node without a queue name is skipped")
}

func TestParsePayload(t *testing.T) {
	object := parsePayload(`{"order_id": "42"}`)
	assert.Equal(t, "42", object["order_id"])

	plain := parsePayload("not json at all")
	assert.Equal(t, "not json at all", plain["message"])

	scalar := parsePayload(`"quoted"`)
	assert.Equal(t, `"quoted"`, scalar["message"])
}

func TestActiveWorkflowsFiltersByStatus(t *testing.T) {
	persistence, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, persistence.SaveWorkflow(t.Context(), queueWorkflow("wf-active", "orders", models.WorkflowStatusActive)))
	require.NoError(t, persistence.SaveWorkflow(t.Context(), queueWorkflow("wf-draft", "orders", models.WorkflowStatusDraft)))

	workflows, err := activeWorkflows(t.Context(), persistence, slog.Default())
	require.NoError(t, err)

	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-active", workflows[0].ID)
}

func TestStartRejectsInvalidRedisURL(t *testing.T) {
	persistence, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	source := NewSource(slog.Default(), persistence, "not-a-url", time.Minute)

	err = source.Start(t.Context(), func(_ context.Context, _ string, _ map[string]any) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
