// Package eventdispatcher routes consumed event envelopes to the handler
// registered for their event type.
package eventdispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// Dispatcher manages event handlers and dispatches events to their registered handler.
// Each event type has exactly one handler responsible for processing events of that type.
//
// Typical usage:
//
//	dispatcher := eventdispatcher.New(tracer, logger)
//	if err := dispatcher.RegisterHandler(ctx, orderCreatedHandler); err != nil {
//	    return err
//	}
//	bus.Subscribe(ctx, dispatcher.EventTypes(), dispatcher.Dispatch)
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.EventType]events.EventHandler
	tracer   trace.Tracer
	logger   *logger.Logger
}

// New constructs a Dispatcher with an empty registry.
func New(tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	logger = logger.With("component", "event_dispatcher")
	return &Dispatcher{
		handlers: make(map[events.EventType]events.EventHandler),
		tracer:   tracer,
		logger:   logger,
	}
}

// HandlerAlreadyRegisteredError is returned when a second handler claims an event type.
type HandlerAlreadyRegisteredError struct {
	EventType events.EventType
}

func (e *HandlerAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handler already registered for event type: %s", e.EventType)
}

// RegisterHandler associates handler with every event type it supports. Registration
// is all-or-nothing: if any type is already claimed nothing is registered.
//
// This method is safe to call concurrently.
func (d *Dispatcher) RegisterHandler(ctx context.Context, handler events.EventHandler) error {
	_, span := d.tracer.Start(ctx, "event_dispatcher.register_handler",
		trace.WithAttributes(attribute.String("handler_type", fmt.Sprintf("%T", handler))),
	)
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	supported := handler.SupportedEvents()
	for _, et := range supported {
		if _, exists := d.handlers[et]; exists {
			err := &HandlerAlreadyRegisteredError{EventType: et}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, et := range supported {
		d.handlers[et] = handler
		d.logger.Debug(ctx, "handler registered", "event_type", et)
	}

	span.SetStatus(codes.Ok, "handler registered")
	return nil
}

// EventTypes returns the event types that currently have a handler.
func (d *Dispatcher) EventTypes() []events.EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]events.EventType, 0, len(d.handlers))
	for et := range d.handlers {
		types = append(types, et)
	}
	return types
}

// HandlerNotFoundError indicates a handler was not found for an event type.
type HandlerNotFoundError struct {
	EventType events.EventType
	MessageID string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s (message: %s)", e.EventType, e.MessageID)
}

// Dispatch hands evt to its registered handler inside a new span. It has the
// events.HandlerFunc signature so it can be passed straight to EventBus.Subscribe.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	logger := logger.NewLoggerContext(d.logger.With("operation", "dispatch",
		"event_type", evt.Type,
		"message_id", evt.Metadata.MessageID,
		"delivery_tag", evt.Metadata.DeliveryTag,
		"attempt", evt.Metadata.Attempt,
	))
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("message_id", evt.Metadata.MessageID),
			attribute.Bool("redelivered", evt.Metadata.Redelivered),
			attribute.Int("attempt", evt.Metadata.Attempt),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{EventType: evt.Type, MessageID: evt.Metadata.MessageID}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.Add("handler_type", fmt.Sprintf("%T", handler))

	if err := handler.HandleEvent(ctx, evt, ack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dispatch event for handler %T with event type %s: %w",
			handler, evt.Type, err,
		)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	logger.Debug(ctx, "event dispatched successfully")
	return nil
}
