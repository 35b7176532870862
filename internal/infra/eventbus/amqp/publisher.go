package amqp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/amqp/tracing"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/serialization"
)

// Publish serializes event and publishes it to the exchange with the event type
// as routing key. Messages are persistent. When publisher confirms are enabled
// critical events are only reported as published once the broker has confirmed them.
//
// Publish makes a single attempt. A broker that cannot be reached yields an
// error; retrying is left to the caller.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	routingKey := string(event.Type)
	ctx, span := tracing.StartProducerSpan(ctx, b.cfg.Exchange, routingKey, b.tracer)
	defer span.End()

	params := events.ApplyPublishOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	body, err := serialization.SerializePayload(event.Type, event.Payload)
	if err != nil {
		b.publishFailed(ctx, span, err)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := amqp.Publishing{
		ContentType:   serialization.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: event.Key,
		Timestamp:     ts.UTC(),
		Type:          string(event.Type),
		AppId:         b.cfg.ClientName,
		Body:          body,
		Headers:       amqp.Table{},
	}
	for k, v := range event.Headers {
		msg.Headers[k] = v
	}
	for k, v := range params.Headers {
		msg.Headers[k] = v
	}
	tracing.InjectTraceContext(ctx, &msg)

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		b.publishFailed(ctx, span, err)
		return fmt.Errorf("failed to open publish channel: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.cfg.Exchange, routingKey, false, false, msg)
	if err != nil {
		b.resetPublisher()
		b.publishFailed(ctx, span, err)
		return fmt.Errorf("failed to publish event %s to exchange %s: %w", event.Type, b.cfg.Exchange, err)
	}

	if confirm != nil && reliability.IsCriticalEvent(event.Type) {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			b.publishFailed(ctx, span, err)
			return fmt.Errorf("failed waiting for publish confirmation of %s: %w", event.Type, err)
		}
		if !acked {
			b.publishFailed(ctx, span, ErrPublishNacked)
			return fmt.Errorf("event %s: %w", event.Type, ErrPublishNacked)
		}
	}

	b.metrics.IncMessagePublished(ctx, b.cfg.Exchange)
	span.SetStatus(codes.Ok, "published")
	b.logger.Debug(ctx, "Published message to RabbitMQ",
		"routing_key", routingKey,
		"message_id", msg.MessageId,
		"key", event.Key,
	)

	return nil
}

func (b *EventBus) publishFailed(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "publish failed")
	b.metrics.IncPublishError(ctx, b.cfg.Exchange)
}

// publishChannel returns the pooled publish channel, dialing once if there is
// no usable one. Callers must hold pubMu.
func (b *EventBus) publishChannel() (Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}
	b.pubCh = nil

	if b.pubConn == nil || b.pubConn.IsClosed() {
		conn, err := b.dial(b.cfg.URL, b.amqpConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to broker: %w", err)
		}
		b.pubConn = conn
	}

	ch, err := b.pubConn.Channel()
	if err != nil {
		b.closePublisherConn()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if b.cfg.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}
	if err := declareExchange(ch, b.cfg.Exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}

	b.pubCh = ch
	return ch, nil
}

// resetPublisher drops the pooled channel and connection so the next publish
// starts from a fresh dial. Callers must hold pubMu.
func (b *EventBus) resetPublisher() {
	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			b.logger.Warn(context.Background(), "Failed to close publish channel", "error", err)
		}
		b.pubCh = nil
	}
	b.closePublisherConn()
}

func (b *EventBus) closePublisherConn() {
	if b.pubConn == nil {
		return
	}
	if err := b.pubConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		b.logger.Warn(context.Background(), "Failed to close publish connection", "error", err)
	}
	b.pubConn = nil
}
