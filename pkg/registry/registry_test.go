package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct{}

func (fakeModel) Complete(_ context.Context, _ protocol.CompletionRequest) (string, error) {
	return "ok", nil
}

type fakeMessenger struct{}

func (fakeMessenger) Post(_ context.Context, _, _ string) error {
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry(slog.Default())
	r.RegisterBuiltins(Collaborators{
		LanguageModel: fakeModel{},
		Messenger:     fakeMessenger{},
	})

	return r
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)

	def, err := r.Definition(models.NodeKind{Type: models.NodeTypeAction, Subtype: "http"})
	require.NoError(t, err)

	err = r.Register(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Definition(models.NodeKind{Type: "action", Subtype: "teleport"})
	require.Error(t, err)
	assert.True(t, IsUnknownNodeKind(err))

	err = r.ValidateConfig(models.NodeKind{Type: "action", Subtype: "teleport"}, map[string]any{})
	assert.True(t, IsUnknownNodeKind(err))
}

func TestRegistry_ValidateConfig(t *testing.T) {
	r := newTestRegistry(t)

	kind := models.NodeKind{Type: models.NodeTypeAIAgent, Subtype: "chat"}

	err := r.ValidateConfig(kind, map[string]any{
		"prompt": "Summarize: {input}",
		"model":  "gpt-4",
	})
	require.NoError(t, err)

	err = r.ValidateConfig(kind, map[string]any{
		"prompt": "Summarize: {input}",
	})
	require.Error(t, err, "missing model must fail at validation time")
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "model")
}

func TestRegistry_BuiltinCatalog(t *testing.T) {
	r := newTestRegistry(t)

	kinds := r.Kinds()
	require.Len(t, kinds, 11)

	// Sorted by type then subtype.
	assert.Equal(t, models.NodeKind{Type: models.NodeTypeAction, Subtype: "http"}, kinds[0])
	assert.Equal(t, models.NodeKind{Type: models.NodeTypeTrigger, Subtype: "webhook"}, kinds[10])

	for _, kind := range kinds {
		def, err := r.Definition(kind)
		require.NoError(t, err)
		assert.NotEmpty(t, def.Name())
		assert.NotEmpty(t, def.Description())
		assert.NotNil(t, def.Schema())
		assert.NotNil(t, def.DefaultConfig())
	}
}

func TestRegistry_HandlerBuildsExecutable(t *testing.T) {
	r := newTestRegistry(t)

	handler, err := r.Handler(
		models.NodeKind{Type: models.NodeTypeCondition, Subtype: "expression"},
		map[string]any{"expression": "{data.ok}"},
	)
	require.NoError(t, err)

	output, err := handler.Execute(t.Context(), protocol.NodeInput{Data: map[string]any{"ok": true}})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, output.Next)
}
