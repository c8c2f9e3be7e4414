package blueprint_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/blueprint"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence/file"
	"github.com/brianstittsr/loom/pkg/registry"
	"github.com/brianstittsr/loom/pkg/services"
)

func newValidatingService(t *testing.T) *services.Workflow {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(t.Context())
	})

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterBuiltins(registry.Collaborators{})

	return services.NewWorkflow(store, reg)
}

func TestAll_EveryBlueprintIsAValidGraph(t *testing.T) {
	t.Parallel()

	service := newValidatingService(t)

	for _, b := range blueprint.All() {
		t.Run(b.ID, func(t *testing.T) {
			t.Parallel()

			instance := b.Instantiate("", "owner-1", "team-1")

			require.NoError(t, service.ValidateGraph(instance))

			// Activation must also be possible: every blueprint starts
			// with a trigger node.
			instance.Status = models.WorkflowStatusActive
			require.NoError(t, service.ValidateGraph(instance))
		})
	}
}

func TestAll_CatalogIsStable(t *testing.T) {
	t.Parallel()

	first := blueprint.All()
	second := blueprint.All()

	require.Len(t, first, 8)
	require.Len(t, second, len(first))

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestByID(t *testing.T) {
	t.Parallel()

	b, err := blueprint.ByID("content_summarizer")
	require.NoError(t, err)
	assert.Equal(t, "Content Summarizer", b.Name)

	_, err = blueprint.ByID("does-not-exist")
	require.ErrorIs(t, err, blueprint.ErrBlueprintNotFound)
}

func TestInstantiate_RegeneratesNodeIDs(t *testing.T) {
	t.Parallel()

	b := blueprint.SentimentAnalyzer()

	first := b.Instantiate("", "owner-1", "team-1")
	second := b.Instantiate("", "owner-1", "team-1")

	assert.NotEqual(t, first.ID, second.ID)

	firstIDs := make(map[string]bool, len(first.Nodes))
	for _, n := range first.Nodes {
		firstIDs[n.ID] = true
	}

	for _, n := range second.Nodes {
		assert.False(t, firstIDs[n.ID], "node id %s reused across instances", n.ID)
	}

	// Successor references must resolve inside the instance.
	for _, instance := range []*models.Workflow{first, second} {
		ids := make(map[string]bool, len(instance.Nodes))
		for _, n := range instance.Nodes {
			ids[n.ID] = true
		}

		for _, n := range instance.Nodes {
			for _, successor := range n.Successors {
				assert.True(t, ids[successor], "successor %s of %s does not resolve", successor, n.Name)
			}
		}
	}
}

func TestInstantiate_BuildsDraftWorkflow(t *testing.T) {
	t.Parallel()

	b := blueprint.DataProcessor()

	named := b.Instantiate("Nightly Import Digest", "owner-1", "team-1")
	assert.Equal(t, "Nightly Import Digest", named.Name)
	assert.Equal(t, models.WorkflowStatusDraft, named.Status)
	assert.Equal(t, 1, named.Revision)
	assert.Equal(t, "owner-1", named.Owner)
	assert.Equal(t, "team-1", named.TeamID)
	assert.Len(t, named.Nodes, len(b.Nodes))

	unnamed := b.Instantiate("", "", "")
	assert.Equal(t, b.Name, unnamed.Name)
}

func TestInstantiate_DoesNotAliasCatalogNodes(t *testing.T) {
	t.Parallel()

	instance := blueprint.ContentSummarizer().Instantiate("", "owner-1", "team-1")

	for _, n := range instance.Nodes {
		if n.Type == models.NodeTypeAIAgent {
			n.Config["model"] = "overwritten"
		}
	}

	for _, n := range blueprint.ContentSummarizer().Nodes {
		if n.Type == models.NodeTypeAIAgent {
			assert.Equal(t, "gpt-4", n.Config["model"])
		}
	}
}
