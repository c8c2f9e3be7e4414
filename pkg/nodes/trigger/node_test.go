package trigger

import (
	"testing"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute_PassesPayloadThrough(t *testing.T) {
	handler, err := NewWebhookDefinition().Handler(map[string]any{})
	require.NoError(t, err)

	payload := map[string]any{"input": "hello world"}

	output, err := handler.Execute(t.Context(), protocol.NodeInput{
		Data:    payload,
		Trigger: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, payload, output.Data)
	require.Len(t, output.Logs, 1)
	assert.Contains(t, output.Logs[0].Message, "trigger/webhook")
}

func TestScheduleDefinition_Handler_ValidatesCron(t *testing.T) {
	def := NewScheduleDefinition()

	_, err := def.Handler(map[string]any{"cron": "*/5 * * * *"})
	require.NoError(t, err)

	_, err = def.Handler(map[string]any{"cron": "not a cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	_, err = def.Handler(map[string]any{})
	require.Error(t, err)
}

func TestScheduleDefinition_Handler_ValidatesTimezone(t *testing.T) {
	def := NewScheduleDefinition()

	_, err := def.Handler(map[string]any{"cron": "0 9 * * *", "timezone": "America/Sao_Paulo"})
	require.NoError(t, err)

	_, err = def.Handler(map[string]any{"cron": "0 9 * * *", "timezone": "Mars/Olympus"})
	require.Error(t, err)
}

func TestQueueDefinition_Handler_RequiresQueue(t *testing.T) {
	def := NewQueueDefinition()

	_, err := def.Handler(map[string]any{"queue": "loom:incoming"})
	require.NoError(t, err)

	_, err = def.Handler(map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue")
}

func TestWebhookDefinition_Handler_RejectsBadSchema(t *testing.T) {
	def := NewWebhookDefinition()

	_, err := def.Handler(map[string]any{
		"schema": map[string]any{"type": "object"},
	})
	require.NoError(t, err)

	_, err = def.Handler(map[string]any{
		"schema": map[string]any{"type": 42},
	})
	require.Error(t, err)
}

func TestDefinitions_KindsAreDistinct(t *testing.T) {
	kinds := map[models.NodeKind]bool{}
	for _, def := range []protocol.NodeDefinition{
		NewWebhookDefinition(),
		NewScheduleDefinition(),
		NewQueueDefinition(),
		NewChatMessageDefinition(),
	} {
		assert.Equal(t, models.NodeTypeTrigger, def.Kind().Type)
		assert.False(t, kinds[def.Kind()], "duplicate kind %s", def.Kind())
		kinds[def.Kind()] = true
	}
}
