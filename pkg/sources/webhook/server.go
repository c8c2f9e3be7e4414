// Package webhook exposes per-workflow trigger URLs to external systems.
// A POST to /webhook/trigger/{workflowID} queues an execution of that
// workflow with the request body as trigger payload.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/services"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second

	// maxBodySize caps webhook payloads at 1MB.
	maxBodySize = 1024 * 1024
)

// Triggerer queues an execution. Satisfied by services.Execution.
type Triggerer interface {
	Trigger(ctx context.Context, workflowID string, payload map[string]any, opts services.TriggerOptions) (*models.Execution, error)
}

// Server is the webhook gateway. Workflows are looked up per request, so
// activating a workflow makes its trigger URL live without a restart.
type Server struct {
	port        int
	persistence persistence.Persistence
	triggerer   Triggerer
	logger      *slog.Logger

	mu      sync.Mutex
	server  *http.Server
	started bool
}

func NewServer(port int, logger *slog.Logger, persistence persistence.Persistence, triggerer Triggerer) *Server {
	return &Server{
		port:        port,
		persistence: persistence,
		triggerer:   triggerer,
		logger:      logger.With("module", "webhook_gateway", "port", port),
	}
}

// Start begins serving webhook requests. It returns once the listener is
// running; the server shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/trigger/", s.handleTrigger)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	s.started = true
	s.logger.Info("Starting webhook gateway", "addr", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Webhook gateway error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Webhook gateway shutdown error", "error", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown webhook gateway: %w", err)
	}

	s.started = false
	s.logger.Info("Webhook gateway stopped")

	return nil
}

// Handler exposes the trigger endpoint for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/trigger/", s.handleTrigger)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	workflowID := strings.TrimPrefix(r.URL.Path, "/webhook/trigger/")
	if workflowID == "" || strings.Contains(workflowID, "/") {
		s.writeError(w, http.StatusNotFound, "unknown webhook path")

		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "only POST is allowed")

		return
	}

	logger := s.logger.With("workflow_id", workflowID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds 1MB")

			return
		}

		s.writeError(w, http.StatusBadRequest, "failed to read request body")

		return
	}

	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "request body must be a JSON object")

			return
		}
	}

	workflow, err := s.persistence.WorkflowByID(r.Context(), workflowID)
	if err != nil {
		logger.Error("Failed to load workflow", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	if workflow == nil {
		s.writeError(w, http.StatusNotFound, "unknown workflow")

		return
	}

	node := webhookTriggerNode(workflow)
	if node == nil {
		s.writeError(w, http.StatusNotFound, "workflow has no webhook trigger")

		return
	}

	if problems := validatePayload(node, payload); len(problems) > 0 {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "payload does not match the trigger schema",
			"details": problems,
		})

		return
	}

	payload["webhook"] = map[string]any{
		"headers":     flattenHeaders(r.Header),
		"remote_addr": r.RemoteAddr,
		"received_at": time.Now().UTC().Format(time.RFC3339),
	}

	execution, err := s.triggerer.Trigger(r.Context(), workflowID, payload, services.TriggerOptions{
		Source: "webhook",
	})
	if err != nil {
		switch {
		case services.IsNotFound(err):
			s.writeError(w, http.StatusNotFound, "unknown workflow")
		case services.IsConflictError(err):
			s.writeError(w, http.StatusConflict, "workflow is not active")
		default:
			logger.Error("Failed to trigger workflow", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to queue execution")
		}

		return
	}

	logger.Info("Webhook accepted", "execution_id", execution.ID)

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": execution.ID,
		"status":       string(execution.Status),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// webhookTriggerNode finds the workflow's trigger/webhook node, if any.
func webhookTriggerNode(workflow *models.Workflow) *models.WorkflowNode {
	for _, node := range workflow.Nodes {
		if node.Type == models.NodeTypeTrigger && node.Subtype == "webhook" {
			return node
		}
	}

	return nil
}

// validatePayload checks the payload against the trigger node's optional
// JSON schema. A missing or malformed schema config means no validation;
// the schema was already vetted at workflow update time.
func validatePayload(node *models.WorkflowNode, payload map[string]any) []string {
	raw, ok := node.Config["schema"].(map[string]any)
	if !ok {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(raw),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return []string{err.Error()}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, cause := range result.Errors() {
		problems = append(problems, cause.String())
	}

	return problems
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for name, values := range headers {
		flat[name] = strings.Join(values, ", ")
	}

	return flat
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}
