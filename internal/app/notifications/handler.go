// Package notifications turns order events into customer emails.
package notifications

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/notifications"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

var _ events.EventHandler = (*OrderCreatedHandler)(nil)

// OrderCreatedHandler sends an order confirmation email for every
// order.created event. It never retries on its own; a failed send is reported
// to the bus, whose failure policy decides the message's fate.
type OrderCreatedHandler struct {
	mailer notifications.Mailer
	// processed is optional. When set, orders that were already notified are
	// acknowledged without sending again.
	processed notifications.ProcessedStore

	logger *logger.Logger
	tracer trace.Tracer
}

// NewOrderCreatedHandler creates a handler. processed may be nil.
func NewOrderCreatedHandler(
	mailer notifications.Mailer,
	processed notifications.ProcessedStore,
	logger *logger.Logger,
	tracer trace.Tracer,
) *OrderCreatedHandler {
	return &OrderCreatedHandler{
		mailer:    mailer,
		processed: processed,
		logger:    logger.With("component", "order_created_handler"),
		tracer:    tracer,
	}
}

// SupportedEvents implements the events.EventHandler interface.
func (h *OrderCreatedHandler) SupportedEvents() []events.EventType {
	return []events.EventType{orders.EventTypeOrderCreated}
}

// HandleEvent implements the events.EventHandler interface.
func (h *OrderCreatedHandler) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := h.tracer.Start(ctx, "order_created_handler.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("message_id", evt.Metadata.MessageID),
			attribute.Int("attempt", evt.Metadata.Attempt),
		))
	defer span.End()

	err := h.handle(ctx, evt, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = fmt.Errorf("order_created_handler.handle_event: %w", err)
	}
	ack(err)
	return err
}

func (h *OrderCreatedHandler) handle(ctx context.Context, evt events.EventEnvelope, span trace.Span) error {
	created, ok := evt.Payload.(orders.OrderCreatedEvent)
	if !ok {
		span.SetAttributes(attribute.String("actual_type", fmt.Sprintf("%T", evt.Payload)))
		return fmt.Errorf("%w: payload is %T", orders.ErrMalformedEvent, evt.Payload)
	}
	if err := created.Validate(); err != nil {
		return err
	}

	details := created.Details
	span.SetAttributes(attribute.Int64("order_id", details.ID))

	logCtx := logger.NewLoggerContext(h.logger.With("order_id", details.ID))
	logCtx.Info(ctx, "Processing order created event")

	key := dedupKey(details.ID)
	if h.processed != nil {
		seen, err := h.processed.Seen(ctx, key)
		if err != nil {
			logCtx.Warn(ctx, "Processed-notification lookup failed, sending anyway", "error", err)
		} else if seen {
			span.AddEvent("duplicate_notification_skipped")
			logCtx.Info(ctx, "Order already notified, skipping")
			return nil
		}
	}

	email, err := BuildConfirmation(details)
	if err != nil {
		return err
	}

	if err := h.mailer.Send(ctx, email); err != nil {
		logCtx.Error(ctx, "Error sending email", "error", err)
		return fmt.Errorf("send order confirmation: %w", err)
	}
	logCtx.Info(ctx, "Email sent successfully", "to", details.CustomerEmail)

	if h.processed != nil {
		if err := h.processed.MarkProcessed(ctx, key); err != nil {
			logCtx.Warn(ctx, "Failed to record processed notification", "error", err)
		}
	}
	return nil
}

func dedupKey(orderID int64) string { return "order-" + strconv.FormatInt(orderID, 10) }
