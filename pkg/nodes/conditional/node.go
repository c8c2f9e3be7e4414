// Package conditional provides the condition node that routes an execution
// down exactly one of two successor branches.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/template"
)

// Successor slots on a condition node. The first successor receives the
// execution when the expression evaluates true, the second when it
// evaluates false.
const (
	TrueBranch  = 0
	FalseBranch = 1
)

// comparison operators, longest first so ">=" is not read as ">".
var operators = []string{"==", "!=", ">=", "<=", ">", "<", " contains "}

// Node evaluates a template expression against the current data value and
// selects a successor branch.
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

// Execute evaluates the expression and routes to the true or false branch.
// Evaluation failures abort the branch; the unchosen edge is skipped either
// way. The current data value passes through unchanged.
func (n *Node) Execute(_ context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	result, err := n.evaluate(input)
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("condition evaluation failed: %w", err)
	}

	branch := FalseBranch
	if result {
		branch = TrueBranch
	}

	return protocol.NodeOutput{
		Data: input.Data,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelInfo,
			Message: fmt.Sprintf("condition %q evaluated to %t", n.expression, result),
		}},
		Next: []int{branch},
	}, nil
}

// evaluate supports two expression forms: a comparison "left OP right"
// (==, !=, >, >=, <, <=, contains) where each side is rendered as a
// template, or a bare template whose rendered value is tested for
// truthiness.
func (n *Node) evaluate(input protocol.NodeInput) (bool, error) {
	vars := template.Vars(input)

	left, op, right, ok := splitComparison(n.expression)
	if ok {
		leftValue, err := template.RenderValue(left, vars)
		if err != nil {
			return false, err
		}

		rightValue, err := template.RenderValue(right, vars)
		if err != nil {
			return false, err
		}

		return compare(leftValue, op, rightValue)
	}

	value, err := template.RenderValue(n.expression, vars)
	if err != nil {
		return false, err
	}

	return truthy(value), nil
}

// splitComparison finds the first comparison operator outside template
// braces and splits the expression around it.
func splitComparison(expression string) (left, op, right string, ok bool) {
	depth := 0

	for i := 0; i < len(expression); i++ {
		switch expression[i] {
		case '{':
			depth++
			continue
		case '}':
			if depth > 0 {
				depth--
			}

			continue
		}

		if depth > 0 {
			continue
		}

		for _, candidate := range operators {
			if strings.HasPrefix(expression[i:], candidate) {
				left = strings.TrimSpace(expression[:i])
				right = strings.TrimSpace(expression[i+len(candidate):])

				return left, strings.TrimSpace(candidate), right, true
			}
		}
	}

	return "", "", "", false
}

func compare(left any, op string, right any) (bool, error) {
	leftNum, leftIsNum := toFloat(left)
	rightNum, rightIsNum := toFloat(right)
	numeric := leftIsNum && rightIsNum

	switch op {
	case "==":
		if numeric {
			return leftNum == rightNum, nil
		}

		return template.Stringify(left) == template.Stringify(right), nil
	case "!=":
		if numeric {
			return leftNum != rightNum, nil
		}

		return template.Stringify(left) != template.Stringify(right), nil
	case ">":
		if numeric {
			return leftNum > rightNum, nil
		}

		return template.Stringify(left) > template.Stringify(right), nil
	case ">=":
		if numeric {
			return leftNum >= rightNum, nil
		}

		return template.Stringify(left) >= template.Stringify(right), nil
	case "<":
		if numeric {
			return leftNum < rightNum, nil
		}

		return template.Stringify(left) < template.Stringify(right), nil
	case "<=":
		if numeric {
			return leftNum <= rightNum, nil
		}

		return template.Stringify(left) <= template.Stringify(right), nil
	case "contains":
		return contains(left, right), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func contains(left, right any) bool {
	needle := template.Stringify(right)

	switch v := left.(type) {
	case []any:
		for _, item := range v {
			if template.Stringify(item) == needle {
				return true
			}
		}

		return false
	case map[string]any:
		_, found := v[needle]

		return found
	default:
		return strings.Contains(template.Stringify(left), needle)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		return false
	}
}
