package aiagent

import (
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// analystPreamble steers the analyst variant toward structured analysis
// instead of conversational replies.
const analystPreamble = "You are a careful data analyst. Examine the input, " +
	"identify patterns, anomalies and actionable findings, and answer in a " +
	"structured form with clear sections."

func agentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Prompt template. {input} binds the current data value.",
				"examples": []string{
					"Summarize: {input}",
					"Process this data: {input}",
				},
			},
			"model": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Model identifier passed to the provider.",
				"examples":    []string{"gpt-4", "gpt-3.5-turbo"},
			},
			"temperature": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     2,
				"description": "Sampling temperature.",
			},
			"max_tokens": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Response length cap. Provider default when omitted.",
			},
		},
		"required": []string{"prompt", "model"},
	}
}

// ChatDefinition describes the ai_agent/chat node kind.
type ChatDefinition struct {
	llm protocol.LanguageModel
}

func NewChatDefinition(llm protocol.LanguageModel) protocol.NodeDefinition {
	return &ChatDefinition{llm: llm}
}

func (d *ChatDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeAIAgent, Subtype: "chat"}
}

func (d *ChatDefinition) Name() string {
	return "AI Agent"
}

func (d *ChatDefinition) Description() string {
	return "Calls a language model with a templated prompt and binds the response as the new data value."
}

func (d *ChatDefinition) Schema() map[string]any {
	return agentSchema()
}

func (d *ChatDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"prompt":      "Process this data: {input}",
		"model":       "gpt-4",
		"temperature": 0.7,
	}
}

func (d *ChatDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return NewNode(config, d.llm, "")
}

// AnalystDefinition describes the ai_agent/analyst node kind. Same contract
// as chat with an analysis-oriented system preamble.
type AnalystDefinition struct {
	llm protocol.LanguageModel
}

func NewAnalystDefinition(llm protocol.LanguageModel) protocol.NodeDefinition {
	return &AnalystDefinition{llm: llm}
}

func (d *AnalystDefinition) Kind() models.NodeKind {
	return models.NodeKind{Type: models.NodeTypeAIAgent, Subtype: "analyst"}
}

func (d *AnalystDefinition) Name() string {
	return "AI Analyst"
}

func (d *AnalystDefinition) Description() string {
	return "Calls a language model primed for structured analysis of the current data value."
}

func (d *AnalystDefinition) Schema() map[string]any {
	return agentSchema()
}

func (d *AnalystDefinition) DefaultConfig() map[string]any {
	return map[string]any{
		"prompt":      "Analyze this data and report key findings: {input}",
		"model":       "gpt-4",
		"temperature": 0.3,
	}
}

func (d *AnalystDefinition) Handler(config map[string]any) (protocol.NodeHandler, error) {
	return NewNode(config, d.llm, analystPreamble)
}
