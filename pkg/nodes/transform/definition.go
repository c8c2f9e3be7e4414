package transform

import (
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// Definition describes the transform/expression node kind.
type Definition struct{}

func NewDefinition() protocol.NodeDefinition {
	return &Definition{}
}

func (d *Definition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeTransform, Subtype: "expression"}
}

func (d *Definition) Name() string {
	return "Transform"
}

func (d *Definition) Description() string {
	return "Reshapes the current data value with a template expression. JSON results become structured values."
}

func (d *Definition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Template producing the new data value. Placeholders: {data}, {trigger.*}, {nodes.<id>.*}.",
				"examples": []string{
					`{"summary": "{data}", "source": "{trigger.source}"}`,
					`{nodes.fetch.json}`,
					`Processed: {data}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

func (d *Definition) DefaultConfig() map[string]any {
	return map[string]any{
		"expression": "",
	}
}

func (d *Definition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return NewNode(config)
}
