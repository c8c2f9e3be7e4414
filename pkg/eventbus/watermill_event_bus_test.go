package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/channels/gochannel"
	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/events"
	"github.com/brianstittsr/loom/pkg/models"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.WorkflowTriggered, 1)

	err := bus.Handle(events.WorkflowTriggeredEvent, func(_ context.Context, event any) error {
		triggered, ok := event.(*events.WorkflowTriggered)
		require.True(t, ok)
		received <- triggered

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	published := events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, "wf-1"),
		ExecutionID: "exec-1",
		Source:      "webhook",
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", published))

	select {
	case got := <-received:
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "webhook", got.Source)
		assert.Equal(t, events.WorkflowTriggeredEvent, got.GetType())
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive event within timeout")
	}
}

func TestWatermillEventBus_UnhandledTypeIsIgnored(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 2)

	err := bus.Handle(events.ExecutionFinishedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	cancelEvent := events.ExecutionCancel{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelEvent, "wf-1"),
		ExecutionID: "exec-1",
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", cancelEvent))

	finished := events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, "wf-1"),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusSucceeded,
		DurationMs:  42,
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", finished))

	select {
	case got := <-received:
		finishedEvent, ok := got.(*events.ExecutionFinished)
		require.True(t, ok)
		assert.Equal(t, models.ExecutionStatusSucceeded, finishedEvent.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive event within timeout")
	}

	assert.Empty(t, received)
}

func TestWatermillEventBus_ExecutionLogRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionLog, 1)

	err := bus.Handle(events.ExecutionLogEvent, func(_ context.Context, event any) error {
		logEvent, ok := event.(*events.ExecutionLog)
		require.True(t, ok)
		received <- logEvent

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	entry := models.LogEntry{
		Seq:       3,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Level:     models.LogLevelWarning,
		Message:   "webhook returned HTTP 502",
		NodeID:    "notify",
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", events.ExecutionLog{
		BaseEvent:   events.NewBaseEvent(events.ExecutionLogEvent, "wf-1"),
		ExecutionID: "exec-1",
		Entry:       entry,
	}))

	select {
	case got := <-received:
		assert.Equal(t, int64(3), got.Entry.Seq)
		assert.Equal(t, models.LogLevelWarning, got.Entry.Level)
		assert.Equal(t, "notify", got.Entry.NodeID)
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive event within timeout")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
