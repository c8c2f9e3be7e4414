package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/events"
	"github.com/brianstittsr/loom/pkg/execlog"
)

// Relay feeds worker-side execution log events into the local stream hub
// so SSE subscribers on an API-only tier see entries produced in other
// processes. In embedded mode the dispatcher appends directly and the
// relayed copies are deduplicated by sequence number.
type Relay struct {
	logger   *slog.Logger
	eventBus eventbus.EventSubscriber
	stream   *execlog.Stream
}

func NewRelay(logger *slog.Logger, eventBus eventbus.EventSubscriber, stream *execlog.Stream) *Relay {
	return &Relay{
		logger:   logger.With("module", "relay"),
		eventBus: eventBus,
		stream:   stream,
	}
}

// Register installs the relay's event handlers. The caller owns the bus
// subscription; call Subscribe once after every component registered.
func (r *Relay) Register() error {
	if err := r.eventBus.Handle(events.ExecutionLogEvent, r.handleExecutionLog); err != nil {
		return fmt.Errorf("register execution.log handler: %w", err)
	}

	if err := r.eventBus.Handle(events.ExecutionFinishedEvent, r.handleExecutionFinished); err != nil {
		return fmt.Errorf("register execution.finished handler: %w", err)
	}

	return nil
}

func (r *Relay) handleExecutionLog(_ context.Context, event any) error {
	entry, ok := event.(*events.ExecutionLog)
	if !ok {
		r.logger.Error("Invalid event payload for execution.log")

		return nil
	}

	r.stream.Relay(entry.ExecutionID, entry.Entry)

	return nil
}

func (r *Relay) handleExecutionFinished(_ context.Context, event any) error {
	finished, ok := event.(*events.ExecutionFinished)
	if !ok {
		r.logger.Error("Invalid event payload for execution.finished")

		return nil
	}

	r.stream.Finish(finished.ExecutionID, finished.Status)

	return nil
}
