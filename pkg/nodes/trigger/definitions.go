package trigger

import (
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// WebhookDefinition describes the trigger/webhook node kind. The webhook
// gateway fires the workflow when a request arrives for it.
type WebhookDefinition struct{}

func NewWebhookDefinition() protocol.NodeDefinition {
	return &WebhookDefinition{}
}

func (d *WebhookDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "webhook"}
}

func (d *WebhookDefinition) Name() string {
	return "Webhook Trigger"
}

func (d *WebhookDefinition) Description() string {
	return "Starts the workflow when an HTTP request hits the webhook gateway. Optionally validates payloads against a JSON schema."
}

func (d *WebhookDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"schema": map[string]any{
				"type":        "object",
				"description": "JSON schema inbound payloads must satisfy. Requests that fail validation are rejected at the gateway.",
			},
		},
	}
}

func (d *WebhookDefinition) DefaultConfig() map[string]any {
	return map[string]any{}
}

func (d *WebhookDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return newWebhookHandler(config)
}

// ScheduleDefinition describes the trigger/schedule node kind. The
// scheduler source fires the workflow on the configured cron expression.
type ScheduleDefinition struct{}

func NewScheduleDefinition() protocol.NodeDefinition {
	return &ScheduleDefinition{}
}

func (d *ScheduleDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "schedule"}
}

func (d *ScheduleDefinition) Name() string {
	return "Schedule Trigger"
}

func (d *ScheduleDefinition) Description() string {
	return "Starts the workflow on a cron schedule."
}

func (d *ScheduleDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cron": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Standard five-field cron expression.",
				"examples":    []string{"*/5 * * * *", "0 9 * * 1-5"},
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name the schedule runs in. Defaults to the daemon's local time.",
				"examples":    []string{"UTC", "America/Sao_Paulo"},
			},
		},
		"required": []string{"cron"},
	}
}

func (d *ScheduleDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"cron": "0 * * * *",
	}
}

func (d *ScheduleDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return newScheduleHandler(config)
}

// QueueDefinition describes the trigger/queue node kind. The queue source
// fires the workflow for every item popped from the configured Redis list.
type QueueDefinition struct{}

func NewQueueDefinition() protocol.NodeDefinition {
	return &QueueDefinition{}
}

func (d *QueueDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "queue"}
}

func (d *QueueDefinition) Name() string {
	return "Queue Trigger"
}

func (d *QueueDefinition) Description() string {
	return "Starts the workflow for each message popped from a Redis list."
}

func (d *QueueDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queue": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Redis list name to consume.",
				"examples":    []string{"loom:incoming", "orders"},
			},
		},
		"required": []string{"queue"},
	}
}

func (d *QueueDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"queue": "",
	}
}

func (d *QueueDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return newQueueHandler(config)
}

// ChatMessageDefinition describes the trigger/chat_message node kind. The
// chat source fires the workflow for messages matching the channel and
// keyword filters.
type ChatMessageDefinition struct{}

func NewChatMessageDefinition() protocol.NodeDefinition {
	return &ChatMessageDefinition{}
}

func (d *ChatMessageDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "chat_message"}
}

func (d *ChatMessageDefinition) Name() string {
	return "Chat Message Trigger"
}

func (d *ChatMessageDefinition) Description() string {
	return "Starts the workflow when a chat message arrives in a watched channel, optionally filtered by keywords."
}

func (d *ChatMessageDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channels": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Channel ids to watch. Empty means every channel the bot can read.",
			},
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Case-insensitive keywords the message must contain. Empty matches every message.",
			},
		},
	}
}

func (d *ChatMessageDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"channels": []any{},
		"keywords": []any{},
	}
}

func (d *ChatMessageDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return newChatMessageHandler(config)
}
