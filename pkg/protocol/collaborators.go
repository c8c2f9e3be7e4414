package protocol

import "context"

// CompletionRequest is one language-model invocation.
type CompletionRequest struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// LanguageModel is the external AI collaborator used by ai_agent nodes.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Messenger is the external chat collaborator used by output/chat nodes.
type Messenger interface {
	Post(ctx context.Context, channelID, message string) error
}
