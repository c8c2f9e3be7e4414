// Package schedule fires workflow executions from the cron expressions
// configured on active workflows' trigger/schedule nodes.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/protocol"
)

// DefaultRefreshInterval is how often the source rescans active
// workflows for schedule changes.
const DefaultRefreshInterval = 30 * time.Second

// job is one registered cron entry, keyed by workflow and node id so a
// workflow with several schedule triggers gets one entry each.
type job struct {
	entryID cron.EntryID
	spec    string
}

// Source derives cron jobs from the trigger/schedule nodes of active
// workflows. Edits to a workflow take effect at the next refresh; an
// in-flight execution keeps its dispatch-time snapshot regardless.
type Source struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	refresh     time.Duration

	mu       sync.Mutex
	cron     *cron.Cron
	jobs     map[string]job
	callback protocol.SourceCallback
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSource creates the schedule source. refresh <= 0 selects the
// default interval.
func NewSource(logger *slog.Logger, persistence persistence.Persistence, refresh time.Duration) *Source {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	return &Source{
		persistence: persistence,
		logger:      logger.With("module", "schedule_source"),
		refresh:     refresh,
		jobs:        make(map[string]job),
	}
}

// Start scans once, starts the cron scheduler and keeps rescanning until
// ctx ends.
func (s *Source) Start(ctx context.Context, callback protocol.SourceCallback) error {
	s.mu.Lock()

	if s.cron != nil {
		s.mu.Unlock()

		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.callback = callback
	s.cancel = cancel
	s.done = make(chan struct{})
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	s.mu.Unlock()

	if err := s.Refresh(runCtx); err != nil {
		s.logger.Error("Initial schedule scan failed", "error", err)
	}

	s.cron.Start()
	s.logger.Info("Schedule source started", "refresh_interval", s.refresh)

	go s.refreshLoop(runCtx)

	return nil
}

// Stop halts the scheduler and waits for running jobs to finish. The
// lock is released while waiting so the refresh loop can exit.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	scheduler := s.cron
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if scheduler == nil {
		return nil
	}

	cancel()
	<-done

	stopped := scheduler.Stop()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.cron = nil
	s.jobs = make(map[string]job)
	s.mu.Unlock()

	s.logger.Info("Schedule source stopped")

	return nil
}

func (s *Source) refreshLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Schedule scan failed", "error", err)
			}
		}
	}
}

// Refresh reconciles the cron entries against the current set of active
// workflows: new schedule nodes gain entries, changed specs are
// re-registered, disabled or deleted workflows lose theirs.
func (s *Source) Refresh(ctx context.Context) error {
	desired, err := s.desiredJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	for key, existing := range s.jobs {
		spec, still := desired[key]
		if still && spec == existing.spec {
			continue
		}

		s.cron.Remove(existing.entryID)
		delete(s.jobs, key)
		s.logger.Debug("Removed schedule entry", "key", key)
	}

	for key, spec := range desired {
		if _, exists := s.jobs[key]; exists {
			continue
		}

		workflowID, nodeID, _ := cutJobKey(key)

		entryID, err := s.cron.AddFunc(spec, s.fire(workflowID, nodeID))
		if err != nil {
			s.logger.Warn("Skipping invalid cron spec", "key", key, "spec", spec, "error", err)

			continue
		}

		s.jobs[key] = job{entryID: entryID, spec: spec}
		s.logger.Info("Registered schedule entry", "workflow_id", workflowID, "node_id", nodeID, "spec", spec)
	}

	return nil
}

// desiredJobs maps workflowID/nodeID to the cron spec for every
// trigger/schedule node of every active workflow.
func (s *Source) desiredJobs(ctx context.Context) (map[string]string, error) {
	active := models.WorkflowStatusActive

	summaries, err := s.persistence.Workflows(ctx, persistence.WorkflowFilter{
		Status: &active,
		Limit:  persistence.MaxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	desired := make(map[string]string)

	for _, summary := range summaries {
		workflow, err := s.persistence.WorkflowByID(ctx, summary.ID)
		if err != nil {
			s.logger.Warn("Failed to load workflow during scan", "workflow_id", summary.ID, "error", err)

			continue
		}

		if workflow == nil || workflow.Status != models.WorkflowStatusActive {
			continue
		}

		for _, node := range workflow.Nodes {
			if node.Type != models.NodeTypeTrigger || node.Subtype != "schedule" {
				continue
			}

			spec, ok := node.Config["cron"].(string)
			if !ok || spec == "" {
				continue
			}

			if timezone, ok := node.Config["timezone"].(string); ok && timezone != "" {
				spec = "CRON_TZ=" + timezone + " " + spec
			}

			desired[jobKey(workflow.ID, node.ID)] = spec
		}
	}

	return desired, nil
}

// fire builds the job closure for one schedule node.
func (s *Source) fire(workflowID, nodeID string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		payload := map[string]any{
			"source":   "schedule",
			"node_id":  nodeID,
			"fired_at": time.Now().UTC().Format(time.RFC3339),
		}

		if err := s.callback(ctx, workflowID, payload); err != nil {
			s.logger.Error("Failed to trigger scheduled workflow",
				"workflow_id", workflowID, "node_id", nodeID, "error", err)
		}
	}
}

func jobKey(workflowID, nodeID string) string {
	return workflowID + "/" + nodeID
}

func cutJobKey(key string) (workflowID, nodeID string, ok bool) {
	return strings.Cut(key, "/")
}
