// Package execlog broadcasts execution log entries to live observers
// while writing them through to persistence. Each process runs one
// Stream; worker-side entries reach other processes over the event bus
// and are relayed into the local stream.
package execlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
)

const subscriberBuffer = 256

type Stream struct {
	logger      *slog.Logger
	persistence persistence.Persistence

	mu   sync.Mutex
	hubs map[string]*hub
}

// hub fans one execution's entries out to its subscribers. nextSeq is
// seeded from the persisted log so numbering survives process restarts.
type hub struct {
	mu          sync.Mutex
	nextSeq     int64
	subscribers map[int]chan models.LogEntry
	nextSubID   int
}

func NewStream(logger *slog.Logger, persistence persistence.Persistence) *Stream {
	return &Stream{
		logger:      logger.With("module", "execlog"),
		persistence: persistence,
		hubs:        make(map[string]*hub),
	}
}

func (s *Stream) hub(ctx context.Context, executionID string) (*hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.hubs[executionID]; ok {
		return h, nil
	}

	log, err := s.persistence.ExecutionLog(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("seed log stream for execution %s: %w", executionID, err)
	}

	nextSeq := int64(1)
	if len(log) > 0 {
		nextSeq = log[len(log)-1].Seq + 1
	}

	h := &hub{
		nextSeq:     nextSeq,
		subscribers: make(map[int]chan models.LogEntry),
	}
	s.hubs[executionID] = h

	return h, nil
}

// Append stamps the entry with the execution's next sequence number,
// persists it and delivers it to live subscribers. Slow subscribers may
// miss live entries; the persisted log remains complete.
func (s *Stream) Append(ctx context.Context, executionID string, entry models.LogEntry) (models.LogEntry, error) {
	h, err := s.hub(ctx, executionID)
	if err != nil {
		return entry, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry.Seq = h.nextSeq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := s.persistence.AppendExecutionLog(ctx, executionID, &entry); err != nil {
		return entry, fmt.Errorf("append log entry for execution %s: %w", executionID, err)
	}

	h.nextSeq++
	h.deliver(entry)

	return entry, nil
}

// Relay delivers an entry that another process already persisted. It is
// a no-op when nobody here is observing the execution.
func (s *Stream) Relay(executionID string, entry models.LogEntry) {
	s.mu.Lock()
	h := s.hubs[executionID]
	s.mu.Unlock()

	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if entry.Seq >= h.nextSeq {
		h.nextSeq = entry.Seq + 1
	}

	h.deliver(entry)
}

// Finish closes every subscription of the execution. Call it after the
// final entry has been appended and the terminal status persisted.
func (s *Stream) Finish(executionID string, status models.ExecutionStatus) {
	s.mu.Lock()
	h := s.hubs[executionID]
	delete(s.hubs, executionID)
	s.mu.Unlock()

	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
	}

	h.subscribers = make(map[int]chan models.LogEntry)

	s.logger.Debug("Log stream closed", "execution_id", executionID, "status", string(status))
}

// Subscribe replays the persisted log and then forwards live entries
// until the execution finishes or the context ends. Entries seen during
// replay are not delivered again from the live feed. The cancel function
// releases the subscription; it is safe to call more than once.
func (s *Stream) Subscribe(ctx context.Context, executionID string) (<-chan models.LogEntry, func(), error) {
	execution, err := s.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	if execution == nil {
		return nil, nil, persistence.ErrExecutionNotFound
	}

	var (
		live  chan models.LogEntry
		subID int
		h     *hub
	)

	terminal := execution.Status.IsTerminal()
	if !terminal {
		h, err = s.hub(ctx, executionID)
		if err != nil {
			return nil, nil, err
		}

		live, subID = h.add()

		// The execution may have finished between the status read and the
		// registration, in which case Finish already ran and nobody will
		// close this subscription. Re-check and fall back to replay-only.
		recheck, err := s.persistence.ExecutionByID(ctx, executionID)
		if err != nil {
			h.remove(subID)

			return nil, nil, err
		}

		if recheck != nil && recheck.Status.IsTerminal() {
			h.remove(subID)

			h = nil
			terminal = true
		}
	}

	replay, err := s.persistence.ExecutionLog(ctx, executionID)
	if err != nil {
		if h != nil {
			h.remove(subID)
		}

		return nil, nil, err
	}

	out := make(chan models.LogEntry, subscriberBuffer)

	go func() {
		defer close(out)

		if h != nil {
			defer h.remove(subID)
		}

		var maxSeq int64

		for _, entry := range replay {
			select {
			case out <- *entry:
				maxSeq = entry.Seq
			case <-ctx.Done():
				return
			}
		}

		if terminal {
			return
		}

		for {
			select {
			case entry, ok := <-live:
				if !ok {
					return
				}

				if entry.Seq <= maxSeq {
					continue
				}

				maxSeq = entry.Seq

				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if h != nil {
			h.remove(subID)
		}
	}

	return out, cancel, nil
}

func (h *hub) add() (chan models.LogEntry, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.LogEntry, subscriberBuffer)
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = ch

	return ch, id
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[id]
	if !ok {
		return
	}

	delete(h.subscribers, id)
	close(ch)
}

// deliver is called with h.mu held.
func (h *hub) deliver(entry models.LogEntry) {
	for _, ch := range h.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}
