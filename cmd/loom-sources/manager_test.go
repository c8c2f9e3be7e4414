package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianstittsr/loom/pkg/protocol"
)

type fakeSource struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeSource) Start(_ context.Context, _ protocol.SourceCallback) error {
	if f.startErr != nil {
		return f.startErr
	}

	*f.events = append(*f.events, "start:"+f.name)

	return nil
}

func (f *fakeSource) Stop(_ context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)

	return nil
}

func noopCallback(_ context.Context, _ string, _ map[string]any) error {
	return nil
}

func TestSourceManagerStartsInAddOrderStopsInReverse(t *testing.T) {
	var events []string

	manager := NewSourceManager(slog.Default())
	manager.Add("schedule", &fakeSource{name: "schedule", events: &events})
	manager.Add("queue", &fakeSource{name: "queue", events: &events})

	require.NoError(t, manager.Start(t.Context(), noopCallback))
	require.NoError(t, manager.Stop(t.Context()))

	assert.Equal(t, []string{"start:schedule", "start:queue", "stop:queue", "stop:schedule"}, events)
}

func TestSourceManagerStartFailureStopsStartedSources(t *testing.T) {
	var events []string

	manager := NewSourceManager(slog.Default())
	manager.Add("schedule", &fakeSource{name: "schedule", events: &events})
	manager.Add("queue", &fakeSource{name: "queue", startErr: errors.New("redis down"), events: &events})

	err := manager.Start(t.Context(), noopCallback)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start source queue")

	assert.Equal(t, []string{"start:schedule", "stop:schedule"}, events)
}

func TestSourceManagerWithoutSources(t *testing.T) {
	manager := NewSourceManager(slog.Default())

	require.Error(t, manager.Start(t.Context(), noopCallback))
}

func TestSourceManagerDuplicateAddIgnored(t *testing.T) {
	var events []string

	manager := NewSourceManager(slog.Default())
	manager.Add("schedule", &fakeSource{name: "one", events: &events})
	manager.Add("schedule", &fakeSource{name: "two", events: &events})

	require.NoError(t, manager.Start(t.Context(), noopCallback))

	assert.Equal(t, []string{"start:one"}, events)
}
