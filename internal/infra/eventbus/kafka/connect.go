package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// ConnectEventBus creates an EventBus using client, retrying with exponential
// backoff while the cluster is unreachable. It gives up after five minutes.
func ConnectEventBus(
	cfg *Config,
	client sarama.Client,
	logger *logger.Logger,
	metrics events.BusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var eventBus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		var consumerGroup sarama.ConsumerGroup
		if cfg.GroupID != "" {
			consumerGroup, err = sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
			if err != nil {
				producer.Close()
				return fmt.Errorf("creating consumer group: %w", err)
			}
		}

		eventBus, err = NewEventBus(producer, consumerGroup, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close()
			if consumerGroup != nil {
				consumerGroup.Close()
			}
			return fmt.Errorf("creating event bus: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect event bus after retries: %w", err)
	}

	return eventBus, nil
}
