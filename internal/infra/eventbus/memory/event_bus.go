// Package memory provides an in-memory implementation of the event bus.
// It behaves like a single durable queue with a prefetch of one: published
// events are serialized, buffered in FIFO order and handed to the subscriber
// one at a time. It is suitable for tests and single-process development where
// durability across restarts is not required.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/serialization"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

const destination = "memory"

var (
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("memory event bus closed")
	// ErrAlreadySubscribed is returned when Subscribe is called twice.
	ErrAlreadySubscribed = errors.New("memory event bus already has a subscriber")
)

var (
	_ events.EventBus      = (*EventBus)(nil)
	_ events.StateReporter = (*EventBus)(nil)
)

// message is a buffered, already serialized event.
type message struct {
	id          string
	eventType   events.EventType
	key         string
	headers     map[string]string
	timestamp   time.Time
	body        []byte
	attempt     int
	redelivered bool
}

// EventBus is an in-process queue implementing events.EventBus.
type EventBus struct {
	mu          sync.Mutex
	queue       []message
	deadLetters []events.EventEnvelope
	ready       chan struct{}

	policy     reliability.Policy
	subscribed atomic.Bool
	state      atomic.Int32
	closed     atomic.Bool
	stop       chan struct{}
	wg         sync.WaitGroup

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics events.BusMetrics
}

// NewEventBus creates an empty bus applying policy to failed messages.
func NewEventBus(policy reliability.Policy, logger *logger.Logger, metrics events.BusMetrics, tracer trace.Tracer) *EventBus {
	if policy.Mode == "" {
		policy = reliability.DefaultPolicy()
	}
	b := &EventBus{
		ready:   make(chan struct{}, 1),
		policy:  policy,
		stop:    make(chan struct{}),
		logger:  logger.With("component", "memory_event_bus", "policy", string(policy.Mode)),
		tracer:  tracer,
		metrics: metrics,
	}
	b.state.Store(int32(events.StateDisconnected))
	return b
}

// Publish serializes event and appends it to the queue.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := b.tracer.Start(ctx, "memory_event_bus.publish",
		trace.WithAttributes(attribute.String("event_type", string(event.Type))))
	defer span.End()

	params := events.ApplyPublishOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	headers := make(map[string]string, len(event.Headers)+len(params.Headers))
	for k, v := range event.Headers {
		headers[k] = v
	}
	for k, v := range params.Headers {
		headers[k] = v
	}

	body, err := serialization.SerializePayload(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialize failed")
		b.incPublishError(ctx)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	b.enqueue(message{
		id:        uuid.NewString(),
		eventType: event.Type,
		key:       event.Key,
		headers:   headers,
		timestamp: ts,
		body:      body,
		attempt:   1,
	})

	if b.metrics != nil {
		b.metrics.IncMessagePublished(ctx, destination)
	}
	return nil
}

func (b *EventBus) enqueue(m message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *EventBus) dequeue() (message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return message{}, false
	}
	m := b.queue[0]
	b.queue = b.queue[1:]
	return m, true
}

// Len returns the number of messages waiting for delivery.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// DeadLetters returns the events rejected by the failure policy.
func (b *EventBus) DeadLetters() []events.EventEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.EventEnvelope(nil), b.deadLetters...)
}

// State reports the current state of the delivery loop.
func (b *EventBus) State() events.ConsumerState { return events.ConsumerState(b.state.Load()) }

// Subscribe starts delivering queued events of eventTypes to handler. Events of
// other types are discarded when they reach the head of the queue.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		if !serialization.IsKnown(et) {
			return fmt.Errorf("subscribe: %w: %s", serialization.ErrUnknownEventType, et)
		}
		wanted[et] = struct{}{}
	}

	if !b.subscribed.CompareAndSwap(false, true) {
		return ErrAlreadySubscribed
	}

	b.state.Store(int32(events.StateIdle))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.state.Store(int32(events.StateDisconnected))
		b.deliverLoop(ctx, wanted, handler)
	}()

	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

func (b *EventBus) deliverLoop(ctx context.Context, wanted map[events.EventType]struct{}, handler events.HandlerFunc) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, ok := b.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-b.ready:
				continue
			}
		}

		select {
		case <-b.stop:
			b.requeueFront(m)
			return
		default:
		}

		if _, ok := wanted[m.eventType]; !ok {
			b.logger.Warn(ctx, "Discarding event without subscriber", "event_type", m.eventType, "message_id", m.id)
			continue
		}

		b.state.Store(int32(events.StateProcessing))
		b.process(context.WithoutCancel(ctx), m, handler)
		b.state.Store(int32(events.StateIdle))
	}
}

func (b *EventBus) requeueFront(m message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append([]message{m}, b.queue...)
}

func (b *EventBus) process(ctx context.Context, m message, handler events.HandlerFunc) {
	ctx, span := b.tracer.Start(ctx, "memory_event_bus.consume",
		trace.WithAttributes(
			attribute.String("event_type", string(m.eventType)),
			attribute.String("message_id", m.id),
			attribute.Int("attempt", m.attempt),
		))
	defer span.End()

	var once sync.Once
	var evt events.EventEnvelope
	settle := func(err error) {
		once.Do(func() { b.settle(ctx, m, evt, err) })
	}

	payload, err := serialization.DeserializePayload(m.eventType, m.body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		settle(err)
		return
	}

	evt = events.EventEnvelope{
		Type:      m.eventType,
		Key:       m.key,
		Headers:   m.headers,
		Timestamp: m.timestamp,
		Payload:   payload,
		Metadata: events.EventMetadata{
			MessageID:   m.id,
			Redelivered: m.redelivered,
			Attempt:     m.attempt,
		},
	}

	if err := handler(ctx, evt, settle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		b.logger.Error(ctx, "Failed to handle message", "error", err, "message_id", m.id)
		settle(err)
		return
	}
	settle(nil)
	span.SetStatus(codes.Ok, "processed")
}

func (b *EventBus) settle(ctx context.Context, m message, evt events.EventEnvelope, procErr error) {
	if procErr != nil && b.metrics != nil {
		b.metrics.IncConsumeError(ctx, destination)
	}

	switch b.policy.Decide(procErr, m.attempt) {
	case reliability.ActionAck:
		if procErr == nil && b.metrics != nil {
			b.metrics.IncMessageConsumed(ctx, destination)
		}
	case reliability.ActionRetry:
		m.attempt++
		m.redelivered = true
		b.enqueue(m)
		if b.metrics != nil {
			b.metrics.IncMessageRetried(ctx, destination)
		}
	case reliability.ActionDeadLetter:
		if evt.Type == "" {
			evt = events.EventEnvelope{Type: m.eventType, Key: m.key, Headers: m.headers, Timestamp: m.timestamp, Payload: m.body}
		}
		b.mu.Lock()
		b.deadLetters = append(b.deadLetters, evt)
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.IncMessageDeadLettered(ctx, destination)
		}
	}
}

func (b *EventBus) incPublishError(ctx context.Context) {
	if b.metrics != nil {
		b.metrics.IncPublishError(ctx, destination)
	}
}

// Close stops delivery after the in-flight message. Undelivered events are discarded.
func (b *EventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stop)
	b.wg.Wait()
	return nil
}
