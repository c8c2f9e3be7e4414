package registry

import (
	"github.com/brianstittsr/loom/pkg/nodes/aiagent"
	"github.com/brianstittsr/loom/pkg/nodes/conditional"
	"github.com/brianstittsr/loom/pkg/nodes/httprequest"
	"github.com/brianstittsr/loom/pkg/nodes/output"
	"github.com/brianstittsr/loom/pkg/nodes/transform"
	"github.com/brianstittsr/loom/pkg/nodes/trigger"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// Collaborators are the external services node handlers depend on. A nil
// collaborator leaves its node kinds registered for validation and
// cataloging; building a handler for them fails at dispatch time.
type Collaborators struct {
	LanguageModel protocol.LanguageModel
	Messenger     protocol.Messenger
}

// RegisterBuiltins registers every built-in node kind.
func (r *Registry) RegisterBuiltins(collaborators Collaborators) {
	r.MustRegister(trigger.NewWebhookDefinition())
	r.MustRegister(trigger.NewScheduleDefinition())
	r.MustRegister(trigger.NewQueueDefinition())
	r.MustRegister(trigger.NewChatMessageDefinition())

	r.MustRegister(aiagent.NewChatDefinition(collaborators.LanguageModel))
	r.MustRegister(aiagent.NewAnalystDefinition(collaborators.LanguageModel))

	r.MustRegister(httprequest.NewDefinition())

	r.MustRegister(conditional.NewDefinition())
	r.MustRegister(transform.NewDefinition())

	r.MustRegister(output.NewChatDefinition(collaborators.Messenger))
	r.MustRegister(output.NewWebhookDefinition())
}
