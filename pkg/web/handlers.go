package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/brianstittsr/loom/pkg/blueprint"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/registry"
	"github.com/brianstittsr/loom/pkg/services"
)

type APIHandlers struct {
	workflows  *services.Workflow
	executions *services.Execution
	stream     *execlog.Stream
	registry   *registry.Registry
	validator  *validator.Validate

	// active reports in-flight executions for the health endpoint. Nil on
	// API-only deployments, where no runner is embedded.
	active func() int
}

func NewAPIHandlers(
	workflows *services.Workflow,
	executions *services.Execution,
	stream *execlog.Stream,
	registry *registry.Registry,
	validator *validator.Validate,
	active func() int,
) *APIHandlers {
	return &APIHandlers{
		workflows:  workflows,
		executions: executions,
		stream:     stream,
		registry:   registry,
		validator:  validator,
		active:     active,
	}
}

// Register mounts every API route on the app. The from-blueprint route
// registers before the parameterized workflow routes so its static
// segment is not read as a workflow id.
func (h *APIHandlers) Register(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/from-blueprint/:blueprintID", h.CreateWorkflowFromBlueprint)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Get("/:id/log/stream", h.StreamExecutionLog)

	app.Get("/node-kinds", h.GetNodeKinds)
	app.Get("/blueprints", h.GetBlueprints)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	filter, err := h.parseWorkflowFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	normalized := filter.Normalize()

	summaries, err := h.workflows.List(c.Context(), normalized)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": summaries,
		"count":     len(summaries),
		"pagination": fiber.Map{
			"limit":  normalized.Limit,
			"offset": normalized.Offset,
		},
	})
}

// parseWorkflowFilter parses the query parameters of GET /workflows.
func (h *APIHandlers) parseWorkflowFilter(c fiber.Ctx) (persistence.WorkflowFilter, error) {
	filter := persistence.WorkflowFilter{TeamID: c.Query("team_id")}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, err
		}

		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return filter, err
		}

		filter.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		filter.Status = &status
	}

	return filter, nil
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return unprocessable(c, err.Error())
	}

	created, err := h.workflows.Create(c.Context(), services.CreateWorkflowRequest{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		TeamID:      req.TeamID,
		Nodes:       req.Nodes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflows.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return unprocessable(c, err.Error())
	}

	updated, err := h.workflows.Update(c.Context(), id, services.UpdateWorkflowRequest{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		Nodes:       req.Nodes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflows.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ExecuteWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executions.Trigger(c.Context(), id, req.Payload, services.TriggerOptions{
		TestRun: req.TestRun,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	summaries, err := h.executions.ListByWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": summaries,
		"count":      len(summaries),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executions.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.executions.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "cancellation requested",
	})
}

// StreamExecutionLog serves the execution log as server-sent events: the
// persisted entries replay first, live entries follow, and a final status
// event ends the stream once the execution reaches a terminal status.
func (h *APIHandlers) StreamExecutionLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	// The stream writer runs after this handler returns, so the
	// subscription gets its own context instead of the request's.
	ctx, stop := context.WithCancel(context.Background())

	entries, release, err := h.stream.Subscribe(ctx, id)
	if err != nil {
		stop()

		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer stop()
		defer release()

		for entry := range entries {
			if !writeEvent(w, "log", entry) {
				return
			}
		}

		// The entry channel closes when the execution finishes. Report the
		// terminal status so clients know the stream ended deliberately.
		execution, err := h.executions.FetchByID(ctx, id)
		if err != nil {
			return
		}

		writeEvent(w, "status", fiber.Map{
			"status": execution.Status,
			"error":  execution.Error,
		})
	})
}

// writeEvent writes one SSE frame and flushes it. A false return means
// the client is gone.
func writeEvent(w *bufio.Writer, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}

	return w.Flush() == nil
}

func (h *APIHandlers) GetNodeKinds(c fiber.Ctx) error {
	kinds := h.registry.Kinds()
	catalog := make([]NodeKindResponse, 0, len(kinds))

	for _, kind := range kinds {
		def, err := h.registry.Definition(kind)
		if err != nil {
			continue
		}

		catalog = append(catalog, NodeKindResponse{
			Kind:        kind.String(),
			Type:        kind.Type,
			Subtype:     kind.Subtype,
			Name:        def.Name(),
			Description: def.Description(),
			Schema:      def.Schema(),
			Defaults:    def.DefaultConfig(),
		})
	}

	return c.JSON(fiber.Map{
		"node_kinds": catalog,
		"count":      len(catalog),
	})
}

func (h *APIHandlers) GetBlueprints(c fiber.Ctx) error {
	catalog := blueprint.All()

	return c.JSON(fiber.Map{
		"blueprints": catalog,
		"count":      len(catalog),
	})
}

func (h *APIHandlers) CreateWorkflowFromBlueprint(c fiber.Ctx) error {
	blueprintID := c.Params("blueprintID")
	if blueprintID == "" {
		return badRequest(c, "Blueprint ID is required")
	}

	b, err := blueprint.ByID(blueprintID)
	if err != nil {
		return notFound(c, err.Error())
	}

	var req InstantiateBlueprintRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return unprocessable(c, err.Error())
		}
	}

	instance := b.Instantiate(req.Name, req.Owner, req.TeamID)

	created, err := h.workflows.Create(c.Context(), services.CreateWorkflowRequest{
		Name:        instance.Name,
		Description: instance.Description,
		Owner:       instance.Owner,
		TeamID:      instance.TeamID,
		Nodes:       instance.Nodes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOK := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOK {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	activeExecutions := 0
	if h.active != nil {
		activeExecutions = h.active()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":            status,
		"active_executions": activeExecutions,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
