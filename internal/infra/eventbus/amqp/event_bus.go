// Package amqp provides a RabbitMQ-based implementation of the event bus.
//
// Publishing uses one long-lived channel that is opened on first use; a failed
// publish discards it so the next call dials afresh. Subscribing starts a single
// delivery loop that keeps its own connection alive, redialing with exponential
// backoff for as long as the subscription context is live, and processes
// messages strictly one at a time.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// Config contains settings for connecting to RabbitMQ and the topology events flow through.
type Config struct {
	// URL is the AMQP URI of the broker.
	URL string
	// ClientName is reported to the broker as the connection name.
	ClientName string

	// Exchange is the durable topic exchange events are published to.
	Exchange string
	// Queue is the durable queue subscribers consume from.
	Queue string
	// Prefetch bounds the unacknowledged deliveries the broker hands the
	// consumer. Zero means 1; anything above 1 is rejected since handlers
	// run one delivery at a time.
	Prefetch int

	// PublisherConfirms makes Publish wait for the broker to confirm critical events.
	PublisherConfirms bool

	// ReconnectInitial and ReconnectMax shape the consumer's redial backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Policy decides what happens to messages whose processing failed.
	Policy reliability.Policy
}

var (
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("amqp event bus closed")
	// ErrAlreadySubscribed is returned when Subscribe is called twice.
	ErrAlreadySubscribed = errors.New("amqp event bus already has a subscriber")
	// ErrPublishNacked is returned when the broker refuses a confirmed publish.
	ErrPublishNacked = errors.New("broker did not confirm publish")
)

var (
	_ events.EventBus      = (*EventBus)(nil)
	_ events.StateReporter = (*EventBus)(nil)
)

// EventBus implements events.EventBus on top of a RabbitMQ topic exchange.
type EventBus struct {
	cfg    Config
	dial   DialFunc
	policy reliability.Policy

	pubMu   sync.Mutex
	pubConn Connection
	pubCh   Channel

	subscribed atomic.Bool
	state      atomic.Int32
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	closed     atomic.Bool

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics events.BusMetrics
}

// Option customizes an EventBus.
type Option func(*EventBus)

// WithDialer replaces the function used to open broker connections.
func WithDialer(dial DialFunc) Option { return func(b *EventBus) { b.dial = dial } }

// NewEventBus creates a bus for cfg. No connection is opened until the first
// Publish or Subscribe.
func NewEventBus(
	cfg *Config,
	logger *logger.Logger,
	metrics events.BusMetrics,
	tracer trace.Tracer,
	opts ...Option,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for amqp event bus")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp event bus requires an exchange")
	}

	if cfg.Prefetch < 0 || cfg.Prefetch > 1 {
		return nil, fmt.Errorf("amqp event bus requires a prefetch of 1, got %d", cfg.Prefetch)
	}

	c := *cfg
	if c.Prefetch == 0 {
		c.Prefetch = 1
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.Policy.Mode == "" {
		c.Policy = reliability.DefaultPolicy()
	}

	b := &EventBus{
		cfg:    c,
		dial:   Dial,
		policy: c.Policy,
		stop:   make(chan struct{}),
		logger: logger.With(
			"component", "amqp_event_bus",
			"exchange", c.Exchange,
			"queue", c.Queue,
			"policy", string(c.Policy.Mode),
		),
		tracer:  tracer,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.state.Store(int32(events.StateDisconnected))

	return b, nil
}

// State reports the current state of the delivery loop.
func (b *EventBus) State() events.ConsumerState { return events.ConsumerState(b.state.Load()) }

func (b *EventBus) setState(s events.ConsumerState) { b.state.Store(int32(s)) }

func (b *EventBus) amqpConfig() amqp.Config {
	props := amqp.NewConnectionProperties()
	if b.cfg.ClientName != "" {
		props.SetClientConnectionName(b.cfg.ClientName)
	}
	return amqp.Config{Properties: props, Heartbeat: 10 * time.Second}
}

// Close stops the delivery loop after the in-flight message (if any) has been
// settled and releases the publishing connection.
func (b *EventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	logger := b.logger.With("operation", "close")
	ctx, span := b.tracer.Start(context.Background(), "amqp_event_bus.close")
	defer span.End()

	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	var errs []error
	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close publish channel: %w", err))
		}
		b.pubCh = nil
	}
	if b.pubConn != nil {
		if err := b.pubConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close publish connection: %w", err))
		}
		b.pubConn = nil
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close event bus")
		logger.Error(ctx, "Failed to close event bus", "error", err)
		return err
	}

	span.SetStatus(codes.Ok, "closed event bus")
	logger.Info(ctx, "Closed event bus")
	return nil
}
