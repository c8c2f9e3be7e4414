// Package chat fires workflow executions from chat-platform messages.
// The source polls the channels named by trigger/chat_message nodes and
// matches new posts against each node's keyword filter.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brianstittsr/loom/pkg/clients/mattermost"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/protocol"
)

const (
	// DefaultPollInterval is how often each bound channel is polled.
	DefaultPollInterval = 10 * time.Second

	callbackTimeout = 30 * time.Second
)

// Reader is the slice of the chat client the source needs. Satisfied by
// mattermost.Client.
type Reader interface {
	PostsSince(ctx context.Context, channelID string, since int64) ([]mattermost.Post, error)
}

// matcher binds one trigger/chat_message node to its filters.
type matcher struct {
	workflowID string
	nodeID     string
	keywords   []string
}

// Source polls chat channels and triggers the workflows whose
// chat_message trigger matches an incoming post.
type Source struct {
	persistence persistence.Persistence
	reader      Reader
	logger      *slog.Logger
	poll        time.Duration

	mu      sync.Mutex
	since   map[string]int64 // channel id -> watermark (ms since epoch)
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	callback protocol.SourceCallback
}

// NewSource creates the chat source. poll <= 0 selects the default
// interval.
func NewSource(logger *slog.Logger, persistence persistence.Persistence, reader Reader, poll time.Duration) *Source {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &Source{
		persistence: persistence,
		reader:      reader,
		logger:      logger.With("module", "chat_source"),
		poll:        poll,
		since:       make(map[string]int64),
	}
}

// Start begins polling. New channels enter the rotation at the next
// poll; history older than the first poll is never replayed.
func (s *Source) Start(ctx context.Context, callback protocol.SourceCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.callback = callback
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.pollLoop(runCtx)

	s.logger.Info("Chat source started", "poll_interval", s.poll)

	return nil
}

// Stop halts polling and waits for the in-flight poll to finish.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.started = false
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("Chat source stopped")

	return nil
}

func (s *Source) pollLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PollOnce(ctx); err != nil {
				s.logger.Error("Chat poll failed", "error", err)
			}
		}
	}
}

// PollOnce rebuilds the channel bindings from the active workflows and
// polls each bound channel once.
func (s *Source) PollOnce(ctx context.Context) error {
	bindings, err := s.channelBindings(ctx)
	if err != nil {
		return err
	}

	for channelID, matchers := range bindings {
		s.pollChannel(ctx, channelID, matchers)
	}

	return nil
}

// pollChannel fetches posts newer than the channel watermark and runs
// them through the matchers. The watermark only advances past posts that
// were fetched, so a failed poll retries the same window.
func (s *Source) pollChannel(ctx context.Context, channelID string, matchers []matcher) {
	s.mu.Lock()
	watermark, seen := s.since[channelID]

	if !seen {
		// First sight of this channel: start from now, not history.
		watermark = time.Now().UTC().UnixMilli()
		s.since[channelID] = watermark
	}
	s.mu.Unlock()

	posts, err := s.reader.PostsSince(ctx, channelID, watermark)
	if err != nil {
		s.logger.Error("Failed to poll channel", "channel_id", channelID, "error", err)

		return
	}

	for _, post := range posts {
		if post.CreateAt > watermark {
			watermark = post.CreateAt
		}

		for _, m := range matchers {
			if !matchKeywords(post.Message, m.keywords) {
				continue
			}

			s.fire(ctx, m, post)
		}
	}

	s.mu.Lock()
	s.since[channelID] = watermark
	s.mu.Unlock()
}

func (s *Source) fire(ctx context.Context, m matcher, post mattermost.Post) {
	callbackCtx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	payload := map[string]any{
		"source":     "chat",
		"node_id":    m.nodeID,
		"message":    post.Message,
		"channel_id": post.ChannelID,
		"user_id":    post.UserID,
		"timestamp":  post.CreateAt,
	}

	if err := s.callback(callbackCtx, m.workflowID, payload); err != nil {
		s.logger.Error("Failed to trigger workflow from chat message",
			"workflow_id", m.workflowID, "channel_id", post.ChannelID, "error", err)
	}
}

// channelBindings maps each channel id to the matchers listening on it.
// A chat_message node with no channel list cannot be polled and is
// skipped with a warning.
func (s *Source) channelBindings(ctx context.Context) (map[string][]matcher, error) {
	active := models.WorkflowStatusActive

	summaries, err := s.persistence.Workflows(ctx, persistence.WorkflowFilter{
		Status: &active,
		Limit:  persistence.MaxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	bindings := make(map[string][]matcher)

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
			if node.Type != models.NodeTypeTrigger || node.Subtype != "chat_message" {
				continue
			}

			channels := stringSlice(node.Config["channels"])
			if len(channels) == 0 {
				s.logger.Warn("chat_message trigger without channels cannot be polled",
					"workflow_id", workflow.ID, "node_id", node.ID)

				continue
			}

			m := matcher{
				workflowID: workflow.ID,
				nodeID:     node.ID,
				keywords:   stringSlice(node.Config["keywords"]),
			}

			for _, channelID := range channels {
				bindings[channelID] = append(bindings[channelID], m)
			}
		}
	}

	return bindings, nil
}

// matchKeywords reports whether the message contains any keyword,
// case-insensitively. An empty keyword list matches every message.
func matchKeywords(message string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}

	lowered := strings.ToLower(message)

	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}

		if strings.Contains(lowered, strings.ToLower(keyword)) {
			return true
		}
	}

	return false
}

// stringSlice coerces a JSON-decoded config value into a string slice.
func stringSlice(value any) []string {
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		result := make([]string, 0, len(typed))

		for _, item := range typed {
			if s, ok := item.(string); ok && s != "" {
				result = append(result, s)
			}
		}

		return result
	default:
		return nil
	}
}
