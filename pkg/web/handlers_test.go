package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence/file"
	"github.com/brianstittsr/loom/pkg/registry"
	"github.com/brianstittsr/loom/pkg/services"
	"github.com/brianstittsr/loom/pkg/web"
)

type testAPI struct {
	app        *fiber.App
	workflows  *services.Workflow
	executions *services.Execution
	store      *file.Persistence
	stream     *execlog.Stream
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(t.Context())
	})

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterBuiltins(registry.Collaborators{})

	stream := execlog.NewStream(slog.Default(), store)
	workflows := services.NewWorkflow(store, reg)
	executions := services.NewExecution(store, nil, stream)

	handlers := web.NewAPIHandlers(workflows, executions, stream, reg,
		validator.New(validator.WithRequiredStructEnabled()), nil)

	app := fiber.New()
	handlers.Register(app)

	return &testAPI{
		app:        app,
		workflows:  workflows,
		executions: executions,
		store:      store,
		stream:     stream,
	}
}

func triggerNode(id string, successors ...string) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:         id,
		Type:       models.NodeTypeTrigger,
		Subtype:    "webhook",
		Name:       "Webhook",
		Config:     map[string]any{},
		Successors: successors,
	}
}

func transformNode(id string, successors ...string) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:         id,
		Type:       models.NodeTypeTransform,
		Subtype:    "expression",
		Name:       "Shape",
		Config:     map[string]any{"expression": "{data}"},
		Successors: successors,
	}
}

func (a *testAPI) createWorkflow(t *testing.T, nodes ...*models.WorkflowNode) *models.Workflow {
	t.Helper()

	created, err := a.workflows.Create(t.Context(), services.CreateWorkflowRequest{
		Name:   "Order Intake",
		Owner:  "owner-1",
		TeamID: "team-1",
		Nodes:  nodes,
	})
	require.NoError(t, err)

	return created
}

func (a *testAPI) activate(t *testing.T, workflowID string) *models.Workflow {
	t.Helper()

	status := models.WorkflowStatusActive
	updated, err := a.workflows.Update(t.Context(), workflowID, services.UpdateWorkflowRequest{
		Status: &status,
	})
	require.NoError(t, err)

	return updated
}

func jsonRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()

	var reader io.Reader

	if body != nil {
		if raw, ok := body.(string); ok {
			reader = bytes.NewBufferString(raw)
		} else {
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewBuffer(raw)
		}
	}

	req := httptest.NewRequest(method, url, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedDetail string
	}{
		{
			name: "successful creation with nodes",
			requestBody: web.CreateWorkflowRequest{
				Name:   "Ticket Triage",
				Owner:  "owner-1",
				TeamID: "team-1",
				Nodes:  []*models.WorkflowNode{triggerNode("start", "shape"), transformNode("shape")},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "name too short",
			requestBody: web.CreateWorkflowRequest{
				Name: "ab",
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedDetail: "Name",
		},
		{
			name: "dangling successor rejected",
			requestBody: web.CreateWorkflowRequest{
				Name:  "Broken Graph",
				Nodes: []*models.WorkflowNode{triggerNode("start", "ghost")},
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedDetail: "unknown successor",
		},
		{
			name:           "invalid JSON",
			requestBody:    "{not json",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid JSON format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestAPI(t)

			resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows", tt.requestBody))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			if tt.expectedDetail != "" {
				assert.Contains(t, string(body), tt.expectedDetail)
			}

			if tt.expectedStatus == http.StatusCreated {
				var workflow models.Workflow
				require.NoError(t, json.Unmarshal(body, &workflow))
				assert.NotEmpty(t, workflow.ID)
				assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
				assert.Equal(t, 1, workflow.Revision)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflow(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	created := api.createWorkflow(t, triggerNode("start"))

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows/"+created.ID, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	workflow := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, created.ID, workflow.ID)
	assert.Len(t, workflow.Nodes, 1)

	missing, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows/nope", nil))
	require.NoError(t, err)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	t.Parallel()

	t.Run("rename bumps revision", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, triggerNode("start"))

		name := "Order Intake v2"
		resp, err := api.app.Test(jsonRequest(t, http.MethodPatch, "/workflows/"+created.ID,
			web.UpdateWorkflowRequest{Name: &name}))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		workflow := decodeBody[models.Workflow](t, resp)
		assert.Equal(t, name, workflow.Name)
		assert.Equal(t, 2, workflow.Revision)
	})

	t.Run("activation without trigger node rejected", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, transformNode("shape"))

		status := models.WorkflowStatusActive
		resp, err := api.app.Test(jsonRequest(t, http.MethodPatch, "/workflows/"+created.ID,
			web.UpdateWorkflowRequest{Status: &status}))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "trigger node")
	})

	t.Run("unknown workflow", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)

		name := "Whatever"
		resp, err := api.app.Test(jsonRequest(t, http.MethodPatch, "/workflows/nope",
			web.UpdateWorkflowRequest{Name: &name}))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPIHandlers_DeleteWorkflowIsIdempotent(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	created := api.createWorkflow(t, triggerNode("start"))

	for range 2 {
		resp, err := api.app.Test(jsonRequest(t, http.MethodDelete, "/workflows/"+created.ID, nil))
		require.NoError(t, err)

		_ = resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	_, err := api.workflows.FetchByID(t.Context(), created.ID)
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	first := api.createWorkflow(t, triggerNode("start"))
	api.createWorkflow(t, triggerNode("start"))
	api.activate(t, first.ID)

	type listResponse struct {
		Workflows []models.WorkflowSummary `json:"workflows"`
		Count     int                      `json:"count"`
	}

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows?status=active", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	listed := decodeBody[listResponse](t, resp)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, first.ID, listed.Workflows[0].ID)

	badStatus, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows?status=archived", nil))
	require.NoError(t, err)

	defer func() { _ = badStatus.Body.Close() }()

	assert.Equal(t, http.StatusUnprocessableEntity, badStatus.StatusCode)

	badLimit, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows?limit=many", nil))
	require.NoError(t, err)

	defer func() { _ = badLimit.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, badLimit.StatusCode)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	t.Parallel()

	t.Run("active workflow queues execution", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, triggerNode("start"))
		activated := api.activate(t, created.ID)

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+created.ID+"/execute",
			web.ExecuteWorkflowRequest{Payload: map[string]any{"value": 42}}))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		execution := decodeBody[models.Execution](t, resp)
		assert.NotEmpty(t, execution.ID)
		assert.Equal(t, models.ExecutionStatusQueued, execution.Status)
		assert.Equal(t, activated.Revision, execution.WorkflowRevision)
	})

	t.Run("draft workflow conflicts", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, triggerNode("start"))

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+created.ID+"/execute", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("test run bypasses active check", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, triggerNode("start"))

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+created.ID+"/execute",
			web.ExecuteWorkflowRequest{TestRun: true}))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows/nope/execute", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPIHandlers_GetExecution(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	created := api.createWorkflow(t, triggerNode("start"))
	api.activate(t, created.ID)

	execution, err := api.executions.Trigger(t.Context(), created.ID, nil, services.TriggerOptions{})
	require.NoError(t, err)

	_, err = api.stream.Append(t.Context(), execution.ID, models.LogEntry{
		Level:   models.LogLevelInfo,
		Message: "execution started",
	})
	require.NoError(t, err)

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/executions/"+execution.ID, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := decodeBody[models.Execution](t, resp)
	assert.Equal(t, execution.ID, fetched.ID)
	require.Len(t, fetched.Log, 1)
	assert.Equal(t, "execution started", fetched.Log[0].Message)

	missing, err := api.app.Test(jsonRequest(t, http.MethodGet, "/executions/nope", nil))
	require.NoError(t, err)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_GetWorkflowExecutions(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	created := api.createWorkflow(t, triggerNode("start"))
	api.activate(t, created.ID)

	for range 2 {
		_, err := api.executions.Trigger(t.Context(), created.ID, nil, services.TriggerOptions{})
		require.NoError(t, err)
	}

	type listResponse struct {
		Executions []models.ExecutionSummary `json:"executions"`
		Count      int                       `json:"count"`
	}

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows/"+created.ID+"/executions", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decodeBody[listResponse](t, resp).Count)

	missing, err := api.app.Test(jsonRequest(t, http.MethodGet, "/workflows/nope/executions", nil))
	require.NoError(t, err)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	t.Parallel()

	t.Run("queued execution fails immediately", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, triggerNode("start"))
		api.activate(t, created.ID)

		execution, err := api.executions.Trigger(t.Context(), created.ID, nil, services.TriggerOptions{})
		require.NoError(t, err)

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		cancelled, err := api.executions.FetchByID(t.Context(), execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)
	})

	t.Run("finished execution conflicts", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)
		created := api.createWorkflow(t, triggerNode("start"))
		api.activate(t, created.ID)

		execution, err := api.executions.Trigger(t.Context(), created.ID, nil, services.TriggerOptions{})
		require.NoError(t, err)

		finished := time.Now().UTC()
		execution.Status = models.ExecutionStatusSucceeded
		execution.FinishedAt = &finished
		require.NoError(t, api.store.SaveExecution(t.Context(), execution))

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown execution", func(t *testing.T) {
		t.Parallel()

		api := setupTestAPI(t)

		resp, err := api.app.Test(jsonRequest(t, http.MethodPost, "/executions/nope/cancel", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPIHandlers_StreamExecutionLog(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	created := api.createWorkflow(t, triggerNode("start"))
	api.activate(t, created.ID)

	execution, err := api.executions.Trigger(t.Context(), created.ID, nil, services.TriggerOptions{})
	require.NoError(t, err)

	for _, message := range []string{"execution started", "node start completed", "execution succeeded"} {
		_, err := api.stream.Append(t.Context(), execution.ID, models.LogEntry{
			Level:   models.LogLevelInfo,
			Message: message,
		})
		require.NoError(t, err)
	}

	finished := time.Now().UTC()
	execution.Status = models.ExecutionStatusSucceeded
	execution.FinishedAt = &finished
	require.NoError(t, api.store.SaveExecution(t.Context(), execution))
	api.stream.Finish(execution.ID, execution.Status)

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/executions/"+execution.ID+"/log/stream", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	frames := string(body)
	assert.Contains(t, frames, "event: log")
	assert.Contains(t, frames, "execution started")
	assert.Contains(t, frames, "execution succeeded")
	assert.Contains(t, frames, "event: status")
	assert.Contains(t, frames, string(models.ExecutionStatusSucceeded))

	missing, err := api.app.Test(jsonRequest(t, http.MethodGet, "/executions/nope/log/stream", nil))
	require.NoError(t, err)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_GetNodeKinds(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/node-kinds", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	type catalogResponse struct {
		NodeKinds []web.NodeKindResponse `json:"node_kinds"`
		Count     int                    `json:"count"`
	}

	catalog := decodeBody[catalogResponse](t, resp)
	require.Equal(t, 11, catalog.Count)

	byKind := make(map[string]web.NodeKindResponse, len(catalog.NodeKinds))
	for _, kind := range catalog.NodeKinds {
		byKind[kind.Kind] = kind
	}

	assert.Contains(t, byKind, "trigger/webhook")
	assert.Contains(t, byKind, "condition/expression")

	agent, ok := byKind["ai_agent/chat"]
	require.True(t, ok)
	assert.NotEmpty(t, agent.Description)
	assert.Equal(t, "gpt-4", agent.Defaults["model"])
	assert.NotNil(t, agent.Schema["properties"])
}

func TestAPIHandlers_Blueprints(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/blueprints", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	type catalogResponse struct {
		Count int `json:"count"`
	}

	assert.Equal(t, 8, decodeBody[catalogResponse](t, resp).Count)

	created, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows/from-blueprint/content_summarizer",
		web.InstantiateBlueprintRequest{Name: "Docs Digest", Owner: "owner-1"}))
	require.NoError(t, err)

	defer func() { _ = created.Body.Close() }()

	require.Equal(t, http.StatusCreated, created.StatusCode)

	workflow := decodeBody[models.Workflow](t, created)
	assert.Equal(t, "Docs Digest", workflow.Name)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	assert.Len(t, workflow.Nodes, 3)

	missing, err := api.app.Test(jsonRequest(t, http.MethodPost, "/workflows/from-blueprint/nope", nil))
	require.NoError(t, err)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	resp, err := api.app.Test(jsonRequest(t, http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	type healthResponse struct {
		Status           string `json:"status"`
		ActiveExecutions int    `json:"active_executions"`
	}

	health := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.ActiveExecutions)
}
