// Package eventbus selects and constructs the event bus a process runs on.
package eventbus

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/config"
	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/amqp"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/kafka"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/memory"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/metrics"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// Bus is an event bus that also reports the state of its delivery loop.
type Bus interface {
	events.EventBus
	events.StateReporter
}

// Role tells New whether the process consumes from the bus.
type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

// New builds the bus named by cfg.Broker.Transport. clientName identifies the
// process to the broker.
func New(
	cfg *config.Config,
	clientName string,
	role Role,
	log *logger.Logger,
	meter metric.Meter,
	tracer trace.Tracer,
) (Bus, error) {
	policy, err := reliability.NewPolicy(cfg.Policy.Mode, cfg.Policy.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failure policy: %w", err)
	}

	busMetrics, err := metrics.NewBusMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("bus metrics: %w", err)
	}

	switch cfg.Broker.Transport {
	case config.TransportAMQP:
		amqpCfg := &amqp.Config{
			URL:               cfg.Broker.URL,
			ClientName:        clientName,
			Exchange:          cfg.Broker.Exchange,
			Prefetch:          cfg.Broker.Prefetch,
			PublisherConfirms: cfg.Broker.PublisherConfirms,
			ReconnectInitial:  cfg.Broker.ReconnectInitial,
			ReconnectMax:      cfg.Broker.ReconnectMax,
			Policy:            policy,
		}
		if role == RoleSubscriber {
			amqpCfg.Queue = cfg.Broker.Queue
		}
		bus, err := amqp.NewEventBus(amqpCfg, log, busMetrics, tracer)
		if err != nil {
			return nil, err
		}
		return bus, nil

	case config.TransportKafka:
		client, err := kafka.NewClient(&kafka.ClientConfig{
			Brokers:  cfg.Broker.KafkaBrokers,
			ClientID: clientName,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka client: %w", err)
		}

		kafkaCfg := &kafka.Config{
			Brokers:  cfg.Broker.KafkaBrokers,
			Topic:    cfg.Broker.Exchange,
			ClientID: clientName,
			Policy:   policy,
		}
		if role == RoleSubscriber {
			kafkaCfg.GroupID = cfg.Broker.KafkaGroupID
		}
		bus, err := kafka.ConnectEventBus(kafkaCfg, client, log, busMetrics, tracer)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &kafkaBus{EventBus: bus, client: client}, nil

	case config.TransportMemory:
		return memory.NewEventBus(policy, log, busMetrics, tracer), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Broker.Transport)
	}
}

// kafkaBus owns the sarama client the bus was built from.
type kafkaBus struct {
	*kafka.EventBus
	client sarama.Client
}

func (b *kafkaBus) Close() error {
	busErr := b.EventBus.Close()
	if err := b.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
		return errors.Join(busErr, fmt.Errorf("closing kafka client: %w", err))
	}
	return busErr
}
