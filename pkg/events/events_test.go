package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/models"
)

func TestNewBaseEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewBaseEvent(WorkflowTriggeredEvent, "wf-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, WorkflowTriggeredEvent, event.Type)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.False(t, event.Timestamp.Before(before))

	other := NewBaseEvent(WorkflowTriggeredEvent, "wf-1")
	assert.NotEqual(t, event.ID, other.ID)
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, WorkflowTriggeredEvent, WorkflowTriggered{}.GetType())
	assert.Equal(t, ExecutionStartedEvent, ExecutionStarted{}.GetType())
	assert.Equal(t, ExecutionLogEvent, ExecutionLog{}.GetType())
	assert.Equal(t, ExecutionFinishedEvent, ExecutionFinished{}.GetType())
	assert.Equal(t, ExecutionFailedEvent, ExecutionFailed{}.GetType())
	assert.Equal(t, ExecutionCancelEvent, ExecutionCancel{}.GetType())
}

func TestExecutionFinished_Serialization(t *testing.T) {
	event := ExecutionFinished{
		BaseEvent:   NewBaseEvent(ExecutionFinishedEvent, "wf-1"),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusSucceeded,
		Output:      map[string]any{"summary": "done"},
		DurationMs:  1200,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ExecutionFinished

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "exec-1", decoded.ExecutionID)
	assert.Equal(t, models.ExecutionStatusSucceeded, decoded.Status)
	assert.Equal(t, map[string]any{"summary": "done"}, decoded.Output)
}
