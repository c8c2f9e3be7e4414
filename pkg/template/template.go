// Package template provides placeholder rendering for node configuration
// values. Templates use single-brace placeholders ({input}, {data},
// {trigger.user_id}, {nodes.fetch.body}) resolved against the data bound
// to the node being visited.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/brianstittsr/loom/pkg/protocol"
)

// RenderWithInput renders a template against the standard variable set of
// one node visit: input and data (aliases for the current data value),
// trigger (the trigger payload), nodes (fired predecessor outputs by node
// id) and env (process environment).
func RenderWithInput(templateStr string, input protocol.NodeInput) (string, error) {
	return Render(templateStr, Vars(input))
}

// Vars builds the variable map for one node visit.
func Vars(input protocol.NodeInput) map[string]any {
	byNode := make(map[string]any, len(input.ByNode))
	for id, out := range input.ByNode {
		byNode[id] = out
	}

	return map[string]any{
		"input":   input.Data,
		"data":    input.Data,
		"trigger": input.Trigger,
		"nodes":   byNode,
		"env":     getEnvVars(),
		"execution": map[string]any{
			"id":          input.ExecutionID,
			"workflow_id": input.WorkflowID,
		},
	}
}

// Render substitutes {name} placeholders in templateStr with values from
// vars. Names are dotted paths into nested maps. Brace pairs whose
// content is not a valid path (JSON bodies, code fragments) pass through
// untouched; a valid path that resolves to nothing is an error rather
// than an empty string, so typos surface in the execution log.
func Render(templateStr string, vars map[string]any) (string, error) {
	var out strings.Builder

	rest := templateStr

	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			out.WriteString(rest)

			break
		}

		out.WriteString(rest[:open])
		rest = rest[open:]

		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			out.WriteString(rest)

			break
		}

		name := rest[1:closing]
		if !isPath(name) {
			out.WriteByte('{')
			rest = rest[1:]

			continue
		}

		value, ok := lookup(vars, name)
		if !ok {
			return "", fmt.Errorf("template references unknown value '%s'", name)
		}

		out.WriteString(Stringify(value))
		rest = rest[closing+1:]
	}

	return out.String(), nil
}

// RenderValue renders a template and converts the result back into a
// structured value: JSON documents, numbers and booleans are parsed,
// anything else stays a string. Transform nodes use this so expressions
// can rebuild objects, not just text.
func RenderValue(templateStr string, vars map[string]any) (any, error) {
	result, err := Render(templateStr, vars)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) ||
		(len(result) >= 2 && strings.HasPrefix(result, `"`) && strings.HasSuffix(result, `"`)) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}
	}

	// Try to parse as number
	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	// Try to parse as boolean
	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// Stringify converts a value for placeholder substitution: strings pass
// through verbatim, structured values are JSON-encoded.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(raw)
	}
}

func isPath(name string) bool {
	if name == "" {
		return false
	}

	for _, segment := range strings.Split(name, ".") {
		if segment == "" {
			return false
		}

		for _, r := range segment {
			isWord := r == '_' || r == '-' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isWord {
				return false
			}
		}
	}

	return true
}

func lookup(vars map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")

	var current any = vars

	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
