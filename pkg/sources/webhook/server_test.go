package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence/file"
	"github.com/brianstittsr/loom/pkg/services"
)

type fakeTriggerer struct {
	err        error
	workflowID string
	payload    map[string]any
	opts       services.TriggerOptions
}

func (f *fakeTriggerer) Trigger(_ context.Context, workflowID string, payload map[string]any, opts services.TriggerOptions) (*models.Execution, error) {
	f.workflowID = workflowID
	f.payload = payload
	f.opts = opts

	if f.err != nil {
		return nil, f.err
	}

	return &models.Execution{
		ID:         "exec-1",
		WorkflowID: workflowID,
		Status:     models.ExecutionStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func newTestServer(t *testing.T, workflow *models.Workflow, triggerer Triggerer) *httptest.Server {
	t.Helper()

	persistence, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	if workflow != nil {
		require.NoError(t, persistence.SaveWorkflow(t.Context(), workflow))
	}

	server := NewServer(0, slog.Default(), persistence, triggerer)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func webhookWorkflow(id string, triggerConfig map[string]any) *models.Workflow {
	now := time.Now().UTC()

	return &models.Workflow{
		ID:     id,
		Name:   "Webhook workflow",
		Status: models.WorkflowStatusActive,
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeTrigger, Subtype: "webhook", Config: triggerConfig},
		},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestServerTriggersWorkflow(t *testing.T) {
	triggerer := &fakeTriggerer{}
	ts := newTestServer(t, webhookWorkflow("wf-1", nil), triggerer)

	body := bytes.NewBufferString(`{"order_id": "42"}`)

	resp, err := http.Post(ts.URL+"/webhook/trigger/wf-1", "application/json", body)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]any

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "exec-1", accepted["execution_id"])
	assert.Equal(t, "queued", accepted["status"])

	assert.Equal(t, "wf-1", triggerer.workflowID)
	assert.Equal(t, "webhook", triggerer.opts.Source)
	assert.False(t, triggerer.opts.TestRun)
	assert.Equal(t, "42", triggerer.payload["order_id"])

	meta, ok := triggerer.payload["webhook"].(map[string]any)
	require.True(t, ok, "payload should carry webhook metadata")
	assert.NotEmpty(t, meta["remote_addr"])
	assert.NotEmpty(t, meta["received_at"])
}

func TestServerUnknownWorkflow(t *testing.T) {
	ts := newTestServer(t, nil, &fakeTriggerer{})

	resp, err := http.Post(ts.URL+"/webhook/trigger/missing", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerRequiresPost(t *testing.T) {
	ts := newTestServer(t, webhookWorkflow("wf-1", nil), &fakeTriggerer{})

	resp, err := http.Get(ts.URL + "/webhook/trigger/wf-1")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerRejectsSchemaInvalidPayload(t *testing.T) {
	workflow := webhookWorkflow("wf-1", map[string]any{
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"order_id"},
			"properties": map[string]any{
				"order_id": map[string]any{"type": "string"},
			},
		},
	})

	triggerer := &fakeTriggerer{}
	ts := newTestServer(t, workflow, triggerer)

	resp, err := http.Post(ts.URL+"/webhook/trigger/wf-1", "application/json", bytes.NewBufferString(`{"other": 1}`))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, triggerer.workflowID, "invalid payload must not trigger")
}

func TestServerRejectsNonObjectBody(t *testing.T) {
	ts := newTestServer(t, webhookWorkflow("wf-1", nil), &fakeTriggerer{})

	resp, err := http.Post(ts.URL+"/webhook/trigger/wf-1", "application/json", bytes.NewBufferString(`[1, 2]`))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerRejectsOversizedPayload(t *testing.T) {
	ts := newTestServer(t, webhookWorkflow("wf-1", nil), &fakeTriggerer{})

	huge := bytes.Repeat([]byte("a"), maxBodySize+1)
	body, err := json.Marshal(map[string]any{"blob": string(huge)})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/webhook/trigger/wf-1", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServerMapsInactiveWorkflowToConflict(t *testing.T) {
	triggerer := &fakeTriggerer{err: services.ErrWorkflowNotActive}
	ts := newTestServer(t, webhookWorkflow("wf-1", nil), triggerer)

	resp, err := http.Post(ts.URL+"/webhook/trigger/wf-1", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerRequiresWebhookTriggerNode(t *testing.T) {
	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:     "wf-1",
		Name:   "Schedule only",
		Status: models.WorkflowStatusActive,
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeTrigger, Subtype: "schedule", Config: map[string]any{"cron": "0 * * * *"}},
		},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ts := newTestServer(t, workflow, &fakeTriggerer{})

	resp, err := http.Post(ts.URL+"/webhook/trigger/wf-1", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
