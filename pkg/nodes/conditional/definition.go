package conditional

import (
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// Definition describes the condition/expression node kind.
type Definition struct{}

func NewDefinition() protocol.NodeDefinition {
	return &Definition{}
}

func (d *Definition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeCondition, Subtype: "expression"}
}

func (d *Definition) Name() string {
	return "Condition"
}

func (d *Definition) Description() string {
	return "Evaluates an expression against the current data and routes execution to the true or false branch."
}

func (d *Definition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Expression to evaluate. Either a comparison (left OP right with ==, !=, >, >=, <, <=, contains) or a bare template tested for truthiness.",
				"examples": []string{
					`{nodes.fetch.status_code} == 200`,
					`{data.priority} == "high"`,
					`{data.count} > 10`,
					`{data.tags} contains "urgent"`,
					`{data.enabled}`,
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
