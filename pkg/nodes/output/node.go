// Package output provides the terminal node kinds that deliver the
// current data value to the outside world: a chat message or a webhook
// POST. Delivery failures are side-effect failures and never abort the
// branch.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/template"
)

const webhookTimeout = 30 * time.Second

// ChatNode posts a rendered message to a chat channel through the
// messenger collaborator.
type ChatNode struct {
	channel         string
	messageTemplate string
	messenger       protocol.Messenger
}

func NewChatNode(config map[string]any, messenger protocol.Messenger) (*ChatNode, error) {
	if messenger == nil {
		return nil, errors.New("chat collaborator is not configured")
	}

	channel, ok := config["channel"].(string)
	if !ok || channel == "" {
		return nil, errors.New("missing required field 'channel'")
	}

	messageTemplate, ok := config["message_template"].(string)
	if !ok || messageTemplate == "" {
		return nil, errors.New("missing required field 'message_template'")
	}

	return &ChatNode{
		channel:         channel,
		messageTemplate: messageTemplate,
		messenger:       messenger,
	}, nil
}

// Execute renders the message template ({data} binds the full current
// value) and posts it. The channel itself may be templated so chat-born
// executions can answer where they started. Successors receive the node's
// input unchanged.
func (n *ChatNode) Execute(ctx context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	message, err := template.RenderWithInput(n.messageTemplate, input)
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("message rendering failed: %w", err)
	}

	channel, err := template.RenderWithInput(n.channel, input)
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("channel rendering failed: %w", err)
	}

	if err := n.messenger.Post(ctx, channel, message); err != nil {
		return protocol.NodeOutput{
			Data:     input.Data,
			Rendered: message,
			Logs: []protocol.LogRecord{{
				Level:   models.LogLevelWarning,
				Message: fmt.Sprintf("chat delivery to channel %s failed: %v", channel, err),
			}},
		}, nil
	}

	return protocol.NodeOutput{
		Data:     input.Data,
		Rendered: message,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelInfo,
			Message: fmt.Sprintf("message posted to channel %s", channel),
		}},
	}, nil
}

// WebhookNode POSTs the current data value as JSON to a webhook URL.
type WebhookNode struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookNode(config map[string]any) (*WebhookNode, error) {
	webhookURL, ok := config["webhook_url"].(string)
	if !ok || webhookURL == "" {
		return nil, errors.New("missing required field 'webhook_url'")
	}

	return &WebhookNode{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}, nil
}

// Execute renders the URL against the current data and POSTs the data
// value as the JSON body. Successors receive the node's input unchanged.
func (n *WebhookNode) Execute(ctx context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	url, err := template.RenderWithInput(n.webhookURL, input)
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("webhook URL rendering failed: %w", err)
	}

	body, err := json.Marshal(input.Data)
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("payload serialization failed: %w", err)
	}

	if err := n.post(ctx, url, body); err != nil {
		return protocol.NodeOutput{
			Data:     input.Data,
			Rendered: input.Data,
			Logs: []protocol.LogRecord{{
				Level:   models.LogLevelWarning,
				Message: fmt.Sprintf("webhook delivery failed: %v", err),
			}},
		}, nil
	}

	return protocol.NodeOutput{
		Data:     input.Data,
		Rendered: input.Data,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelInfo,
			Message: "webhook delivered",
		}},
	}, nil
}

func (n *WebhookNode) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	return nil
}
