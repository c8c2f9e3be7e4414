package output

import (
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// ChatDefinition describes the output/chat node kind.
type ChatDefinition struct {
	messenger protocol.Messenger
}

func NewChatDefinition(messenger protocol.Messenger) protocol.NodeDefinition {
	return &ChatDefinition{messenger: messenger}
}

func (d *ChatDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeOutput, Subtype: "chat"}
}

func (d *ChatDefinition) Name() string {
	return "Chat Output"
}

func (d *ChatDefinition) Description() string {
	return "Posts a rendered message to a chat channel. Delivery failures are logged as warnings, not fatal."
}

func (d *ChatDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Channel id to post to. Templated, so {trigger.channel_id} answers where a chat trigger fired.",
				"examples":    []string{"town-square", "{trigger.channel_id}"},
			},
			"message_template": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message template. {data} binds the full current data value.",
				"examples":    []string{"Result: {data}", "Workflow completed: {data}"},
			},
		},
		"required": []string{"channel", "message_template"},
	}
}

func (d *ChatDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"channel":          "",
		"message_template": "Workflow completed: {data}",
	}
}

func (d *ChatDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return NewChatNode(config, d.messenger)
}

// WebhookDefinition describes the output/webhook node kind.
type WebhookDefinition struct{}

func NewWebhookDefinition() protocol.NodeDefinition {
	return &WebhookDefinition{}
}

func (d *WebhookDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeOutput, Subtype: "webhook"}
}

func (d *WebhookDefinition) Name() string {
	return "Webhook Output"
}

func (d *WebhookDefinition) Description() string {
	return "POSTs the current data value as JSON to a webhook URL. Delivery failures are logged as warnings, not fatal."
}

func (d *WebhookDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"webhook_url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Destination URL. Templates are rendered against the current data.",
				"examples":    []string{"https://example.com/hooks/done"},
			},
		},
		"required": []string{"webhook_url"},
	}
}

func (d *WebhookDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"webhook_url": "",
	}
}

func (d *WebhookDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return NewWebhookNode(config)
}
