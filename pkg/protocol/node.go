// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/brianstittsr/loom/pkg/models"
)

// NodeInput carries the data bound to a node when the dispatcher visits
// it. Data is the primary input value: the trigger payload for entry
// nodes, otherwise the output of the first-listed fired predecessor.
type NodeInput struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string

	// Data is the evolving payload threaded between nodes.
	Data any

	// ByNode holds the outputs of every fired predecessor keyed by node
	// id, for templates that address a specific upstream result.
	ByNode map[string]any

	// Trigger is the payload the execution was started with.
	Trigger map[string]any
}

// LogRecord is a log line produced by a node handler. The dispatcher
// appends handler records to the execution log between the node's start
// and completion entries.
type LogRecord struct {
	Level   models.LogLevel
	Message string
}

// NodeOutput is the result of one node visit.
type NodeOutput struct {
	// Data is the new data value bound to successor nodes.
	Data any

	// Logs are appended to the execution log in order.
	Logs []LogRecord

	// Next selects successors by index in the node's successor list.
	// A nil Next fires every successor; condition handlers return a
	// single index so exactly one path is taken.
	Next []int

	// Rendered carries the delivered artifact of an output node (the
	// formatted message or posted document). The dispatcher records the
	// last completed one as the execution's final output value.
	Rendered any
}

// NodeHandler executes one node kind: given a data value and the node's
// configuration, produce a new data value, possibly performing one
// external side effect. A non-nil error aborts the node's branch;
// recoverable collaborator failures are reported through Logs and an
// error-marker Data value instead.
type NodeHandler interface {
	Execute(ctx context.Context, input NodeInput) (NodeOutput, error)
}

// NodeDefinition describes a registered (type, subtype) pair: its config
// schema, defaults, and how to build a handler for a concrete config.
type NodeDefinition interface {
	// Kind returns the (type, subtype) registry key.
	Kind() models.NodeKind

	// Name returns the human-readable name for this node kind
	Name() string

	// Description returns a description of what this node kind does
	Description() string

	// Schema returns the JSON schema for configuring this node kind
	Schema() map[string]any

	// DefaultConfig returns the canonical default configuration used to
	// populate new nodes.
	DefaultConfig() map[string]any

	// Handler builds an executable handler for the given configuration.
	Handler(config map[string]any) (NodeHandler, error)
}
