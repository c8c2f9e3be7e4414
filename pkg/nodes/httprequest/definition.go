package httprequest

import (
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// Definition registers the action/http node kind.
type Definition struct{}

// NewDefinition creates the action/http node definition.
func NewDefinition() protocol.NodeDefinition {
	return &Definition{}
}

// Kind returns the registry key.
func (d *Definition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeAction, Subtype: "http"}
}

// Name returns the node kind name.
func (d *Definition) Name() string {
	return "HTTP Request"
}

// Description returns the node kind description.
func (d *Definition) Description() string {
	return "Performs an HTTP request; failures bind an error marker value and record a warning instead of aborting the run"
}

// Schema returns the JSON schema for HTTP request node configuration.
func (d *Definition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "HTTP URL to request. Supports placeholders like {data} and {trigger.id}",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/orders/{trigger.order_id}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers. Values support placeholders",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports placeholders for dynamic content",
				"examples": []string{
					`{"value": "{data}"}`,
					`{"message": "{nodes.summarize.body}"}`,
				},
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds",
				"default":     30,
				"minimum":     1,
				"maximum":     300,
			},
			"retries": map[string]any{
				"type":        "object",
				"description": "Retry behavior for transport failures",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "number", "minimum": 1, "maximum": 10, "default": 1},
					"delay":    map[string]any{"type": "number", "minimum": 0, "maximum": 30000, "default": 0},
				},
			},
		},
		"required": []string{"url", "method"},
	}
}

// DefaultConfig returns the canonical defaults for new nodes.
func (d *Definition) DefaultConfig() map[string]any {
	return map[string]any{
		"url":     "",
		"method":  "GET",
		"headers": map[string]any{},
		"timeout": float64(30),
	}
}

// Handler builds the executable node for a concrete config.
func (d *Definition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return NewNode(config)
}
