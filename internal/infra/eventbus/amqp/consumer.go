package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/amqp/tracing"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/serialization"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

var (
	errSessionClosed    = errors.New("amqp channel closed")
	errDeliveriesClosed = errors.New("amqp delivery stream closed")
)

// session is one live connection + channel pair consuming from the queue.
type session struct {
	conn       Connection
	ch         Channel
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
}

func (s *session) close() {
	if !s.ch.IsClosed() {
		_ = s.ch.Close()
	}
	if !s.conn.IsClosed() {
		_ = s.conn.Close()
	}
}

// Subscribe binds the queue to the routing keys of eventTypes and starts the
// delivery loop. Only one subscription per bus is allowed. The loop runs until
// ctx is cancelled or the bus is closed.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	loopCtx := ctx
	ctx, span := b.tracer.Start(ctx, "amqp_event_bus.subscribe",
		trace.WithAttributes(attribute.String("component", "amqp_event_bus")))
	defer span.End()

	if b.cfg.Queue == "" {
		err := fmt.Errorf("subscribe: no queue configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(eventTypes) == 0 {
		return fmt.Errorf("subscribe: at least one event type is required")
	}

	keys := make([]string, 0, len(eventTypes))
	for _, et := range eventTypes {
		if !serialization.IsKnown(et) {
			err := fmt.Errorf("subscribe: %w: %s", serialization.ErrUnknownEventType, et)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown event type")
			return err
		}
		keys = append(keys, string(et))
	}

	if !b.subscribed.CompareAndSwap(false, true) {
		return ErrAlreadySubscribed
	}
	span.AddEvent("routing_keys_collected", trace.WithAttributes(attribute.StringSlice("routing_keys", keys)))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(loopCtx, keys, handler)
	}()
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)

	return nil
}

// consumeLoop owns the consumer connection. It dials until it succeeds, drains
// deliveries until the session dies, and starts over.
func (b *EventBus) consumeLoop(ctx context.Context, keys []string, handler events.HandlerFunc) {
	defer b.setState(events.StateDisconnected)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := b.logger.With("operation", "consume_loop")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ReconnectInitial
	bo.MaxInterval = b.cfg.ReconnectMax
	bo.MaxElapsedTime = 0

	for {
		b.setState(events.StateConnecting)

		var (
			sess    *session
			attempt int
		)
		operation := func() error {
			attempt++
			s, err := b.openSession(keys)
			if err != nil {
				return err
			}
			sess = s
			return nil
		}
		notify := func(err error, next time.Duration) {
			if isPreconditionFailed(err) {
				logger.Error(ctx, "Queue exists with different arguments; delete or migrate it to change the failure policy",
					"error", err,
					"queue", b.cfg.Queue,
					"retry_in", next.String(),
				)
				return
			}
			logger.Warn(ctx, "Failed to establish consumer session, retrying",
				"error", err,
				"attempt", attempt,
				"retry_in", next.String(),
			)
		}

		if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil || sess == nil {
			logger.Info(ctx, "Consumer stopped before a session was established")
			return
		}
		if ctx.Err() != nil {
			sess.close()
			return
		}

		b.setState(events.StateIdle)
		logger.Info(ctx, "Consumer session established", "attempts", attempt)

		err := b.drain(ctx, sess, handler)
		sess.close()
		if ctx.Err() != nil {
			logger.Info(ctx, "Consumer stopped")
			return
		}
		logger.Warn(ctx, "Consumer session lost, reconnecting", "error", err)
	}
}

// openSession dials, applies the prefetch limit, declares the topology and
// starts consuming with manual acknowledgement.
func (b *EventBus) openSession(keys []string) (*session, error) {
	conn, err := b.dial(b.cfg.URL, b.amqpConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(err error) (*session, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("failed to set prefetch: %w", err))
	}
	if err := declareConsumerTopology(ch, &b.cfg, keys, b.policy.NeedsDeadLetter()); err != nil {
		return fail(err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := ch.Consume(b.cfg.Queue, b.cfg.ClientName, false, false, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to start consuming from %s: %w", b.cfg.Queue, err))
	}

	return &session{conn: conn, ch: ch, deliveries: deliveries, closed: closed}, nil
}

// drain processes deliveries one at a time until the session closes or ctx ends.
func (b *EventBus) drain(ctx context.Context, sess *session, handler events.HandlerFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case amqpErr, ok := <-sess.closed:
			if !ok || amqpErr == nil {
				return errSessionClosed
			}
			return amqpErr

		case d, ok := <-sess.deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			b.setState(events.StateProcessing)
			b.processDelivery(ctx, sess, d, handler)
			b.setState(events.StateIdle)
		}
	}
}

// processDelivery decodes d, runs handler and settles d exactly once. Shutdown
// does not interrupt an in-flight message.
func (b *EventBus) processDelivery(ctx context.Context, sess *session, d amqp.Delivery, handler events.HandlerFunc) {
	msgCtx := tracing.ExtractTraceContext(context.WithoutCancel(ctx), &d)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, b.cfg.Queue, &d, b.tracer)
	defer span.End()

	attempt := attemptOf(&d)
	log := b.logger.With(
		"delivery_tag", d.DeliveryTag,
		"message_id", d.MessageId,
		"routing_key", d.RoutingKey,
		"redelivered", d.Redelivered,
		"attempt", attempt,
	)

	var once sync.Once
	settle := func(procErr error) {
		once.Do(func() { b.settle(msgCtx, sess, &d, attempt, procErr, log) })
	}

	evtType := events.EventType(d.Type)
	if evtType == "" {
		evtType = events.EventType(d.RoutingKey)
	}

	payload, err := serialization.DeserializePayload(evtType, d.Body)
	if err != nil {
		log.Error(msgCtx, "Failed to decode message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode message")
		settle(err)
		return
	}

	evt := events.EventEnvelope{
		Type:      evtType,
		Key:       d.CorrelationId,
		Headers:   stringHeaders(d.Headers),
		Timestamp: d.Timestamp,
		Payload:   payload,
		Metadata: events.EventMetadata{
			MessageID:   d.MessageId,
			DeliveryTag: d.DeliveryTag,
			Redelivered: d.Redelivered,
			Attempt:     attempt,
		},
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	log.Debug(msgCtx, "Received RabbitMQ message", "event_type", evtType)

	if err := handler(msgCtx, evt, settle); err != nil {
		log.Error(msgCtx, "Failed to handle message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to handle message")
		settle(err)
		return
	}

	settle(nil)
	span.SetStatus(codes.Ok, "processed")
}

// settle applies the failure policy to d. A settlement that cannot reach the
// broker is only logged: the broker still owns the message and will redeliver
// it on the next session.
func (b *EventBus) settle(
	ctx context.Context,
	sess *session,
	d *amqp.Delivery,
	attempt int,
	procErr error,
	log *logger.Logger,
) {
	ctx, span := b.tracer.Start(ctx, "amqp_consumer.settle",
		trace.WithLinks(trace.LinkFromContext(ctx)),
	)
	defer span.End()

	if procErr != nil {
		b.metrics.IncConsumeError(ctx, b.cfg.Queue)
	}

	action := b.policy.Decide(procErr, attempt)
	span.SetAttributes(attribute.String("settle.action", action.String()))

	var err error
	switch action {
	case reliability.ActionAck:
		if err = d.Ack(false); err == nil {
			if procErr == nil {
				b.metrics.IncMessageConsumed(ctx, b.cfg.Queue)
			} else {
				log.Warn(ctx, "Dropped message after processing failure", "error", procErr)
			}
		}

	case reliability.ActionDeadLetter:
		if err = d.Nack(false, false); err == nil {
			b.metrics.IncMessageDeadLettered(ctx, b.cfg.Queue)
			log.Warn(ctx, "Dead-lettered message", "error", procErr, "dead_letter_queue", DeadLetterQueue(b.cfg.Queue))
		}

	case reliability.ActionRetry:
		if err = b.retry(ctx, sess.ch, d, attempt+1); err == nil {
			b.metrics.IncMessageRetried(ctx, b.cfg.Queue)
			log.Warn(ctx, "Scheduled message for another attempt", "error", procErr, "next_attempt", attempt+1)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to settle message")
		log.Error(ctx, "Failed to settle message, broker will redeliver", "action", action.String(), "error", err)
		return
	}
	span.SetStatus(codes.Ok, "settled")
}

// retry republishes d straight to the queue with the next attempt number and
// acknowledges the original. If the republish fails the original is requeued.
func (b *EventBus) retry(ctx context.Context, ch Channel, d *amqp.Delivery, nextAttempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[attemptHeader] = int32(nextAttempt)

	msg := amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Timestamp:     d.Timestamp,
		Type:          d.Type,
		AppId:         d.AppId,
		Body:          d.Body,
	}
	if msg.Type == "" {
		msg.Type = d.RoutingKey
	}

	if _, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", b.cfg.Queue, false, false, msg); err != nil {
		pubErr := fmt.Errorf("failed to republish message for retry: %w", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return errors.Join(pubErr, nackErr)
		}
		return pubErr
	}
	return d.Ack(false)
}

func stringHeaders(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]string, len(t))
	carrier := tracing.HeaderCarrier(t)
	for k := range t {
		out[k] = carrier.Get(k)
	}
	return out
}
