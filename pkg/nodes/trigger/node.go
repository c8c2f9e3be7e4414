// Package trigger provides the entry-point node kinds. A trigger node does
// no work of its own at execution time: the dispatcher binds the trigger
// payload as the initial data value and the node passes it through to its
// successors. The value of each kind lies in its config contract, which
// the matching source daemon reads to know when to fire the workflow.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
)

// Node passes the bound trigger payload through unchanged.
type Node struct {
	kind models.NodeKind
}

func (n *Node) Execute(_ context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	return protocol.NodeOutput{
		Data: input.Data,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelInfo,
			Message: fmt.Sprintf("trigger %s fired", n.kind),
		}},
	}, nil
}

func newWebhookHandler(config map[string]any) (protocol.NodeHandler, error) {
	if schema, ok := config["schema"].(map[string]any); ok {
		_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, fmt.Errorf("invalid payload schema: %w", err)
		}
	}

	return &Node{kind: models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "webhook"}}, nil
}

func newScheduleHandler(config map[string]any) (protocol.NodeHandler, error) {
	expression, ok := config["cron"].(string)
	if !ok || expression == "" {
		return nil, errors.New("missing required field 'cron'")
	}

	if _, err := cron.ParseStandard(expression); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	if timezone, ok := config["timezone"].(string); ok && timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	return &Node{kind: models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "schedule"}}, nil
}

func newQueueHandler(config map[string]any) (protocol.NodeHandler, error) {
	queue, ok := config["queue"].(string)
	if !ok || queue == "" {
		return nil, errors.New("missing required field 'queue'")
	}

	return &Node{kind: models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "queue"}}, nil
}

func newChatMessageHandler(_ map[string]any) (protocol.NodeHandler, error) {
	return &Node{kind: models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "chat_message"}}, nil
}
