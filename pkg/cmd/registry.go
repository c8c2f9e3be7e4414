package cmd

import (
	"log/slog"

	"github.com/brianstittsr/loom/pkg/clients/mattermost"
	"github.com/brianstittsr/loom/pkg/clients/openai"
	"github.com/brianstittsr/loom/pkg/registry"
)

// CollaboratorConfig carries the external collaborator credentials taken
// from daemon flags. Empty values leave the collaborator unconfigured:
// its node kinds still validate and catalog, but building a handler for
// them fails at dispatch time.
type CollaboratorConfig struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	MattermostURL   string
	MattermostToken string
}

// NewRegistry assembles the node registry with every built-in kind.
func NewRegistry(logger *slog.Logger, cfg CollaboratorConfig) *registry.Registry {
	collaborators := registry.Collaborators{}

	if cfg.OpenAIAPIKey != "" {
		if cfg.OpenAIBaseURL != "" {
			collaborators.LanguageModel = openai.NewClientWithBaseURL(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		} else {
			collaborators.LanguageModel = openai.NewClient(cfg.OpenAIAPIKey)
		}
	}

	if cfg.MattermostURL != "" {
		collaborators.Messenger = mattermost.NewClient(cfg.MattermostURL, cfg.MattermostToken)
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterBuiltins(collaborators)

	return reg
}
