// Package models defines core node-based workflow models for graph execution
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node types understood by the dispatcher. Subtypes are free-form strings
// scoped to their type; the registry decides which (type, subtype) pairs
// exist.
const (
	NodeTypeTrigger   = "trigger"
	NodeTypeAIAgent   = "ai_agent"
	NodeTypeAction    = "action"
	NodeTypeCondition = "condition"
	NodeTypeTransform = "transform"
	NodeTypeOutput    = "output"
)

// NodeKind identifies a registered node implementation by its
// (type, subtype) pair.
type NodeKind struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

func (k NodeKind) String() string {
	return k.Type + "/" + k.Subtype
}

// ParseNodeKind parses a "type/subtype" string.
func ParseNodeKind(s string) (NodeKind, error) {
	nodeType, subtype, ok := strings.Cut(s, "/")
	if !ok || nodeType == "" || subtype == "" {
		return NodeKind{}, fmt.Errorf("invalid node kind %q, expected type/subtype", s)
	}

	return NodeKind{Type: nodeType, Subtype: subtype}, nil
}

// Position is a 2-D canvas placement. Presentation only, no execution
// semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorkflowNode represents a node instance in a workflow. Successors holds
// the ids of downstream nodes in edge order; for condition nodes the first
// successor is the true path and the second the false path.
type WorkflowNode struct {
	ID         string         `json:"id"         validate:"required"`
	Type       string         `json:"type"       validate:"required"`
	Subtype    string         `json:"subtype"    validate:"required"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config"`
	Position   Position       `json:"position"`
	Successors []string       `json:"successors"`
}

// Kind returns the registry key for this node.
func (n *WorkflowNode) Kind() NodeKind {
	return NodeKind{Type: n.Type, Subtype: n.Subtype}
}

func (n *WorkflowNode) IsTrigger() bool {
	return n.Type == NodeTypeTrigger
}

// Clone returns a deep copy of the node. Config is copied through JSON so
// nested maps do not alias the original.
func (n *WorkflowNode) Clone() *WorkflowNode {
	clone := *n

	clone.Successors = make([]string, len(n.Successors))
	copy(clone.Successors, n.Successors)

	if n.Config != nil {
		clone.Config = make(map[string]any, len(n.Config))

		raw, err := json.Marshal(n.Config)
		if err == nil {
			_ = json.Unmarshal(raw, &clone.Config)
		} else {
			for key, value := range n.Config {
				clone.Config[key] = value
			}
		}
	}

	return &clone
}
