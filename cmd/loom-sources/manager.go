package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brianstittsr/loom/pkg/protocol"
)

// SourceManager starts and stops a set of named trigger sources as one
// unit. A source that fails to start stops the ones already running.
type SourceManager struct {
	logger  *slog.Logger
	names   []string
	sources map[string]protocol.Source
	running []string
}

func NewSourceManager(logger *slog.Logger) *SourceManager {
	return &SourceManager{
		logger:  logger.With("module", "source_manager"),
		sources: make(map[string]protocol.Source),
	}
}

// Add registers a source under a name. Order of Add calls is the start
// order.
func (m *SourceManager) Add(name string, source protocol.Source) {
	if _, exists := m.sources[name]; exists {
		return
	}

	m.names = append(m.names, name)
	m.sources[name] = source
}

// Start launches every registered source with the shared callback.
func (m *SourceManager) Start(ctx context.Context, callback protocol.SourceCallback) error {
	if len(m.names) == 0 {
		return errors.New("no sources configured")
	}

	for _, name := range m.names {
		if err := m.sources[name].Start(ctx, callback); err != nil {
			m.logger.Error("Failed to start source", "source", name, "error", err)

			if stopErr := m.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				m.logger.Error("Failed to stop already-running sources", "error", stopErr)
			}

			return fmt.Errorf("start source %s: %w", name, err)
		}

		m.running = append(m.running, name)
		m.logger.Info("Source started", "source", name)
	}

	return nil
}

// Stop halts the running sources in reverse start order.
func (m *SourceManager) Stop(ctx context.Context) error {
	var errs []error

	for i := len(m.running) - 1; i >= 0; i-- {
		name := m.running[i]

		if err := m.sources[name].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop source %s: %w", name, err))

			continue
		}

		m.logger.Info("Source stopped", "source", name)
	}

	m.running = nil

	return errors.Join(errs...)
}
