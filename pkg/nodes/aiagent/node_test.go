package aiagent

import (
	"context"
	"errors"
	"testing"

	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	response string
	err      error
	got      protocol.CompletionRequest
}

func (s *stubModel) Complete(_ context.Context, req protocol.CompletionRequest) (string, error) {
	s.got = req

	return s.response, s.err
}

func TestNode_Execute_SubstitutesInputAndBindsResponse(t *testing.T) {
	model := &stubModel{response: "a friendly greeting"}

	node, err := NewNode(map[string]any{
		"prompt": "Summarize: {input}",
		"model":  "gpt-4",
	}, model, "")
	require.NoError(t, err)

	payload := map[string]any{"input": "hello world"}

	output, err := node.Execute(t.Context(), protocol.NodeInput{
		Data:    payload,
		Trigger: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, "a friendly greeting", output.Data)
	assert.Equal(t, `Summarize: {"input":"hello world"}`, model.got.Prompt)
	assert.Equal(t, "gpt-4", model.got.Model)
	require.Len(t, output.Logs, 1)
	assert.Contains(t, output.Logs[0].Message, "gpt-4")
}

func TestNode_Execute_StringDataPassesVerbatim(t *testing.T) {
	model := &stubModel{response: "ok"}

	node, err := NewNode(map[string]any{
		"prompt": "Summarize: {input}",
		"model":  "gpt-4",
	}, model, "")
	require.NoError(t, err)

	_, err = node.Execute(t.Context(), protocol.NodeInput{Data: "plain text"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize: plain text", model.got.Prompt)
}

func TestNode_Execute_ModelFailureAborts(t *testing.T) {
	model := &stubModel{err: errors.New("rate limited")}

	node, err := NewNode(map[string]any{
		"prompt": "Summarize: {input}",
		"model":  "gpt-4",
	}, model, "")
	require.NoError(t, err)

	_, err = node.Execute(t.Context(), protocol.NodeInput{Data: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language model call failed")
}

func TestNode_Execute_AnalystPrependsPreamble(t *testing.T) {
	model := &stubModel{response: "analysis"}

	handler, err := NewAnalystDefinition(model).Handler(map[string]any{
		"prompt": "Review: {input}",
		"model":  "gpt-4",
	})
	require.NoError(t, err)

	_, err = handler.Execute(t.Context(), protocol.NodeInput{Data: "numbers"})
	require.NoError(t, err)
	assert.Contains(t, model.got.Prompt, "data analyst")
	assert.Contains(t, model.got.Prompt, "Review: numbers")
}

func TestNewNode_ConfigValidation(t *testing.T) {
	model := &stubModel{}

	_, err := NewNode(map[string]any{"model": "gpt-4"}, model, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt")

	_, err = NewNode(map[string]any{"prompt": "hi {input}"}, model, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")

	_, err = NewNode(map[string]any{"prompt": "hi", "model": "gpt-4"}, nil, "")
	require.Error(t, err)

	node, err := NewNode(map[string]any{
		"prompt":      "hi {input}",
		"model":       "gpt-4",
		"temperature": 0.2,
		"max_tokens":  float64(256),
	}, model, "")
	require.NoError(t, err)
	assert.InEpsilon(t, 0.2, node.config.Temperature, 0.0001)
	assert.Equal(t, 256, node.config.MaxTokens)
}
