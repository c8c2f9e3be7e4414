// Package aiagent provides the ai_agent node kinds, which call a language
// model with a templated prompt and bind the response text as the new data
// value.
package aiagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/template"
)

// Config holds ai_agent node configuration.
type Config struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Node calls the language model collaborator. A failed or timed-out call
// aborts the branch; an alternate path can still complete the execution.
type Node struct {
	config   Config
	llm      protocol.LanguageModel
	preamble string
}

func NewNode(config map[string]any, llm protocol.LanguageModel, preamble string) (*Node, error) {
	if llm == nil {
		return nil, errors.New("language model collaborator is not configured")
	}

	prompt, ok := config["prompt"].(string)
	if !ok || prompt == "" {
		return nil, errors.New("missing required field 'prompt'")
	}

	model, ok := config["model"].(string)
	if !ok || model == "" {
		return nil, errors.New("missing required field 'model'")
	}

	parsed := Config{
		Prompt:      prompt,
		Model:       model,
		Temperature: 0.7,
	}

	if temperature, ok := config["temperature"].(float64); ok {
		parsed.Temperature = temperature
	}

	if maxTokens, ok := config["max_tokens"].(float64); ok {
		parsed.MaxTokens = int(maxTokens)
	}

	return &Node{config: parsed, llm: llm, preamble: preamble}, nil
}

// Execute renders the prompt ({input} binds the current data value, strings
// verbatim and structured values JSON-encoded), calls the model and binds
// the response text as the new data value.
func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	prompt, err := template.RenderWithInput(n.config.Prompt, input)
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("prompt rendering failed: %w", err)
	}

	if n.preamble != "" {
		prompt = n.preamble + "\n\n" + prompt
	}

	response, err := n.llm.Complete(ctx, protocol.CompletionRequest{
		Prompt:      prompt,
		Model:       n.config.Model,
		Temperature: n.config.Temperature,
		MaxTokens:   n.config.MaxTokens,
	})
	if err != nil {
		return protocol.NodeOutput{}, fmt.Errorf("language model call failed: %w", err)
	}

	return protocol.NodeOutput{
		Data: response,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelInfo,
			Message: fmt.Sprintf("model %s completed (%d characters)", n.config.Model, len(response)),
		}},
	}, nil
}
