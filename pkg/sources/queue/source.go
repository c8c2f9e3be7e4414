// Package queue fires workflow executions from Redis lists. Each active
// workflow's trigger/queue node names a list; the source BLPops it and
// turns every message into an execution.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/protocol"
)

const (
	// DefaultRefreshInterval is how often queue bindings are rebuilt from
	// the active workflows.
	DefaultRefreshInterval = 30 * time.Second

	// blockTimeout bounds each BLPop so listeners notice binding changes
	// and shutdown without a poison message.
	blockTimeout = 5 * time.Second

	pingTimeout     = 5 * time.Second
	callbackTimeout = 30 * time.Second
)

// Source consumes Redis lists bound by trigger/queue nodes.
type Source struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	redisURL    string
	refresh     time.Duration

	client   redis.UniversalClient
	callback protocol.SourceCallback

	mu        sync.Mutex
	bindings  map[string][]string // queue name -> workflow ids
	listeners map[string]context.CancelFunc
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// NewSource creates the queue source. refresh <= 0 selects the default
// interval.
func NewSource(logger *slog.Logger, persistence persistence.Persistence, redisURL string, refresh time.Duration) *Source {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	return &Source{
		persistence: persistence,
		logger:      logger.With("module", "queue_source"),
		redisURL:    redisURL,
		refresh:     refresh,
		bindings:    make(map[string][]string),
		listeners:   make(map[string]context.CancelFunc),
	}
}

// Start connects to Redis, binds the current queues and keeps rebinding
// until ctx ends.
func (s *Source) Start(ctx context.Context, callback protocol.SourceCallback) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return nil
	}

	s.started = true
	s.callback = callback
	s.mu.Unlock()

	opts, err := redis.ParseURL(s.redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}

	s.client = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = runCancel
	s.mu.Unlock()

	if err := s.Refresh(runCtx); err != nil {
		s.logger.Error("Initial queue scan failed", "error", err)
	}

	s.wg.Add(1)

	go s.refreshLoop(runCtx)

	s.logger.Info("Queue source started", "refresh_interval", s.refresh)

	return nil
}

// Stop cancels every listener and waits for them to drain.
func (s *Source) Stop(_ context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	client := s.client
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.wg.Wait()

	if client != nil {
		if err := client.Close(); err != nil {
			return fmt.Errorf("close redis client: %w", err)
		}
	}

	s.logger.Info("Queue source stopped")

	return nil
}

func (s *Source) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Queue scan failed", "error", err)
			}
		}
	}
}

// Refresh rebuilds the queue bindings and reconciles the listener set:
// one listener goroutine per distinct queue name.
func (s *Source) Refresh(ctx context.Context) error {
	workflows, err := activeWorkflows(ctx, s.persistence, s.logger)
	if err != nil {
		return err
	}

	desired := queueBindings(workflows)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bindings = desired

	for queue, stop := range s.listeners {
		if _, still := desired[queue]; still {
			continue
		}

		stop()
		delete(s.listeners, queue)
		s.logger.Info("Stopped queue listener", "queue", queue)
	}

	for queue := range desired {
		if _, exists := s.listeners[queue]; exists {
			continue
		}

		listenCtx, stop := context.WithCancel(ctx)
		s.listeners[queue] = stop

		s.wg.Add(1)

		go s.listen(listenCtx, queue)

		s.logger.Info("Started queue listener", "queue", queue)
	}

	return nil
}

// listen BLPops one queue until its context ends.
func (s *Source) listen(ctx context.Context, queue string) {
	defer s.wg.Done()

	logger := s.logger.With("queue", queue)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		values, err := s.client.BLPop(ctx, blockTimeout, queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}

			logger.Error("BLPop failed", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(blockTimeout):
			}

			continue
		}

		if len(values) < 2 {
			continue
		}

		s.deliver(queue, values[1], logger)
	}
}

// deliver fans one message out to every workflow bound to the queue.
func (s *Source) deliver(queue, raw string, logger *slog.Logger) {
	payload := parsePayload(raw)
	payload["source"] = "queue"
	payload["queue"] = queue

	s.mu.Lock()
	workflowIDs := append([]string(nil), s.bindings[queue]...)
	s.mu.Unlock()

	for _, workflowID := range workflowIDs {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)

		if err := s.callback(ctx, workflowID, payload); err != nil {
			logger.Error("Failed to trigger workflow from queue message",
				"workflow_id", workflowID, "error", err)
		}

		cancel()
	}
}

// parsePayload decodes a message as a JSON object; anything else is
// wrapped under "message".
func parsePayload(raw string) map[string]any {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"message": raw}
	}

	return payload
}

// queueBindings maps each configured queue name to the workflows it
// triggers.
func queueBindings(workflows []*models.Workflow) map[string][]string {
	bindings := make(map[string][]string)

	for _, workflow := range workflows {
		for _, node := range workflow.Nodes {
			if node.Type != models.NodeTypeTrigger || node.Subtype != "queue" {
				continue
			}

			queue, ok := node.Config["queue"].(string)
			if !ok || queue == "" {
				continue
			}

			bindings[queue] = append(bindings[queue], workflow.ID)
		}
	}

	return bindings
}

// activeWorkflows loads the full documents of every active workflow.
func activeWorkflows(ctx context.Context, store persistence.Persistence, logger *slog.Logger) ([]*models.Workflow, error) {
	active := models.WorkflowStatusActive

	summaries, err := store.Workflows(ctx, persistence.WorkflowFilter{
		Status: &active,
		Limit:  persistence.MaxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(summaries))

	for _, summary := range summaries {
		workflow, err := store.WorkflowByID(ctx, summary.ID)
		if err != nil {
			logger.Warn("Failed to load workflow during scan", "workflow_id", summary.ID, "error", err)

			continue
		}

		if workflow != nil && workflow.Status == models.WorkflowStatusActive {
			workflows = append(workflows, workflow)
		}
	}

	return workflows, nil
}
