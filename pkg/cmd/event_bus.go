package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/brianstittsr/loom/pkg/channels/gochannel"
	"github.com/brianstittsr/loom/pkg/channels/kafka"
	"github.com/brianstittsr/loom/pkg/eventbus"
)

// NewEventBus builds the event bus for a daemon. Provider "kafka" needs
// KAFKA_BROKERS and gives every service its own consumer group; the
// default is the in-process GoChannel bus, which only works when the
// publisher and consumer share one process.
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("create kafka channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("create gochannel: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
