// Package transform provides the transform node that reshapes the current
// data value with a template expression.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/template"
)

// Node renders its expression against the current data value and binds the
// result as the new data value for downstream nodes.
type Node struct {
	expression string
}

func NewNode(config map[string]any) (*Node, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, errors.New("missing required field 'expression'")
	}

	return &Node{expression: expression}, nil
}

// Execute renders the expression. The rendered text is parsed back into a
// structured value when it is valid JSON, so expressions can rebuild
// objects and lists, not just strings. A render failure aborts the branch.
func (n *Node) Execute(_ context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	result, err := template.RenderValue(n.expression, template.Vars(input))
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("transformation failed: %w", err)
	}

	return protocol.NodeOutput{
		Data: result,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelInfo,
			Message: "transformation applied",
		}},
	}, nil
}
