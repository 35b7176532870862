// Package kafka provides a Kafka-based implementation of the event bus for asynchronous messaging.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/serialization"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

const (
	headerEventType = "event_type"
	headerMessageID = "message_id"
	headerAttempt   = "x-attempt"
)

// Config contains settings for connecting to and interacting with Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic carries all order events.
	Topic string
	// GroupID identifies the consumer group. Publishing-only buses leave it empty.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
	// Policy decides what happens to records whose processing failed.
	Policy reliability.Policy
}

// DeadLetterTopic returns the dead-letter topic for topic.
func DeadLetterTopic(topic string) string { return topic + ".dlq" }

var (
	_ events.EventBus      = (*EventBus)(nil)
	_ events.StateReporter = (*EventBus)(nil)
)

// EventBus implements the EventBus interface using Kafka as the underlying message broker.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	topic   string
	groupID string
	policy  reliability.Policy

	subscribed atomic.Bool
	state      atomic.Int32
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	mu         sync.Mutex

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics events.BusMetrics
}

// NewEventBus wires an already connected producer and (optional) consumer group.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *Config,
	logger *logger.Logger,
	metrics events.BusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka event bus")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka event bus requires a topic")
	}

	policy := cfg.Policy
	if policy.Mode == "" {
		policy = reliability.DefaultPolicy()
	}

	b := &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topic:         cfg.Topic,
		groupID:       cfg.GroupID,
		policy:        policy,
		logger: logger.With(
			"component", "kafka_event_bus",
			"client_id", cfg.ClientID,
			"group_id", cfg.GroupID,
			"topic", cfg.Topic,
		),
		tracer:  tracer,
		metrics: metrics,
	}
	b.state.Store(int32(events.StateDisconnected))
	return b, nil
}

// State reports the current state of the consumer loop.
func (b *EventBus) State() events.ConsumerState { return events.ConsumerState(b.state.Load()) }

func (b *EventBus) setState(s events.ConsumerState) { b.state.Store(int32(s)) }

// Publish sends a domain event to the configured topic keyed by the event key.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	ctx, span := tracing.StartProducerSpan(ctx, b.tracer, b.topic, event.Type)
	defer span.End()

	params := events.ApplyPublishOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	msgBytes, err := serialization.SerializePayload(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		b.metrics.IncPublishError(ctx, b.topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(headerEventType), Value: []byte(event.Type)},
		{Key: []byte(headerMessageID), Value: []byte(uuid.NewString())},
	}
	for k, v := range event.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	for k, v := range params.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return b.publishToTopic(ctx, b.topic, event.Key, msgBytes, headers, ts)
}

// publishToTopic handles the actual publishing of a message to a single Kafka topic
func (b *EventBus) publishToTopic(
	ctx context.Context,
	topic, key string,
	msgBytes []byte,
	headers []sarama.RecordHeader,
	ts time.Time,
) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(msgBytes),
		Headers:   headers,
		Timestamp: ts,
	}
	if key != "" {
		kafkaMsg.Key = sarama.StringEncoder(key)
	}

	tracing.Inject(ctx, kafkaMsg)

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	b.metrics.IncMessagePublished(ctx, topic)
	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)

	return nil
}

// Subscribe joins the consumer group and processes records of eventTypes in a
// background goroutine until ctx is cancelled or the bus is closed.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	loopCtx := ctx
	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(attribute.String("component", "kafka_event_bus")))
	defer span.End()

	if b.consumerGroup == nil {
		err := errors.New("subscribe: bus was created without a consumer group")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		if !serialization.IsKnown(et) {
			err := fmt.Errorf("subscribe: %w: %s", serialization.ErrUnknownEventType, et)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown event type")
			return err
		}
		wanted[et] = struct{}{}
	}

	if !b.subscribed.CompareAndSwap(false, true) {
		return errors.New("subscribe: kafka event bus already has a subscriber")
	}

	loopCtx, cancel := context.WithCancel(loopCtx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(loopCtx, wanted, handler)
	}()
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)

	return nil
}

// consumeLoop maintains a continuous consumer group session for processing messages.
func (b *EventBus) consumeLoop(ctx context.Context, wanted map[events.EventType]struct{}, handler events.HandlerFunc) {
	defer b.setState(events.StateDisconnected)

	cgHandler := &domainEventHandler{
		eventBus:    b,
		wanted:      wanted,
		userHandler: handler,
		logger:      b.logger,
		tracer:      b.tracer,
		metrics:     b.metrics,
	}

	for {
		b.setState(events.StateConnecting)
		if err := b.consumerGroup.Consume(ctx, []string{b.topic}, cgHandler); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close stops the consumer loop and shuts down the producer and consumer group.
func (b *EventBus) Close() error {
	logger := b.logger.With("operation", "close")
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	var errs []error
	if b.consumerGroup != nil {
		if err := b.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer group: %w", err))
		}
	}
	b.wg.Wait()

	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close event bus")
		logger.Error(ctx, "Failed to close event bus", "error", err)
		return err
	}

	span.AddEvent("closed_event_bus")
	span.SetStatus(codes.Ok, "closed event bus")
	logger.Info(ctx, "Closed event bus")

	return nil
}

// domainEventHandler implements sarama.ConsumerGroupHandler to process Kafka messages
// and convert them into domain events for the application.
type domainEventHandler struct {
	eventBus    *EventBus
	wanted      map[events.EventType]struct{}
	userHandler events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics events.BusMetrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.eventBus.setState(events.StateIdle)
	h.logger.Info(sess.Context(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.eventBus.setState(events.StateConnecting)
	h.logger.Info(sess.Context(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes the records of one partition strictly in order. Each
// record is settled through the failure policy before the next is read.
func (h *domainEventHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info(sess.Context(), "Starting to consume from partition",
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())

	for msg := range claim.Messages() {
		h.eventBus.setState(events.StateProcessing)
		h.processMessage(sess, msg, consumeLogger)
		h.eventBus.setState(events.StateIdle)
	}
	return nil
}

func (h *domainEventHandler) processMessage(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage, log *logger.Logger) {
	headers := tracing.ConsumedHeaders(msg)
	msgCtx := tracing.Extract(context.WithoutCancel(sess.Context()), headers)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, h.tracer, msg, h.eventBus.groupID)
	defer span.End()

	headerMap := headers.Map()
	evtType := events.EventType(headerMap[headerEventType])
	attempt := 1
	if n, err := strconv.Atoi(headerMap[headerAttempt]); err == nil && n > 0 {
		attempt = n
	}

	if _, ok := h.wanted[evtType]; !ok && serialization.IsKnown(evtType) {
		sess.MarkMessage(msg, "")
		return
	}

	var once sync.Once
	settle := func(err error) {
		once.Do(func() { h.settle(msgCtx, sess, msg, headers, attempt, err, log) })
	}

	payload, err := serialization.DeserializePayload(evtType, msg.Value)
	if err != nil {
		log.Error(msgCtx, "Failed to decode message", "error", err, "offset", msg.Offset)
		span.RecordError(err)
		settle(err)
		return
	}

	evt := events.EventEnvelope{
		Type:      evtType,
		Key:       string(msg.Key),
		Headers:   headerMap,
		Timestamp: msg.Timestamp,
		Payload:   payload,
		Metadata: events.EventMetadata{
			MessageID: headerMap[headerMessageID],
			Attempt:   attempt,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		},
	}

	log.Debug(msgCtx, "Received Kafka message",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"event_type", evtType,
		"key", evt.Key,
	)

	if err := h.userHandler(msgCtx, evt, settle); err != nil {
		log.Error(msgCtx, "Failed to handle message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to handle message")
		settle(err)
		return
	}
	settle(nil)
}

// settle applies the failure policy and marks the record consumed. Offsets are
// committed after every record so a restart resumes right after it.
func (h *domainEventHandler) settle(
	ctx context.Context,
	sess sarama.ConsumerGroupSession,
	msg *sarama.ConsumerMessage,
	headers []sarama.RecordHeader,
	attempt int,
	procErr error,
	log *logger.Logger,
) {
	ackCtx, ackSpan := h.tracer.Start(ctx, "kafka_consumer.acknowledge",
		trace.WithLinks(trace.LinkFromContext(ctx)),
	)
	defer ackSpan.End()

	if procErr != nil {
		h.metrics.IncConsumeError(ackCtx, msg.Topic)
	}

	bus := h.eventBus
	switch bus.policy.Decide(procErr, attempt) {
	case reliability.ActionAck:
		if procErr == nil {
			h.metrics.IncMessageConsumed(ackCtx, msg.Topic)
		} else {
			log.Warn(ackCtx, "Dropped message after processing failure", "error", procErr, "offset", msg.Offset)
		}

	case reliability.ActionRetry:
		retryHeaders := withHeader(headers, headerAttempt, strconv.Itoa(attempt+1))
		if err := bus.publishToTopic(ackCtx, msg.Topic, string(msg.Key), msg.Value, retryHeaders, msg.Timestamp); err != nil {
			ackSpan.RecordError(err)
			log.Error(ackCtx, "Failed to republish message for retry", "error", err, "offset", msg.Offset)
		} else {
			h.metrics.IncMessageRetried(ackCtx, msg.Topic)
		}

	case reliability.ActionDeadLetter:
		dlq := DeadLetterTopic(msg.Topic)
		dlHeaders := withHeader(headers, "x-error", errString(procErr))
		if err := bus.publishToTopic(ackCtx, dlq, string(msg.Key), msg.Value, dlHeaders, msg.Timestamp); err != nil {
			ackSpan.RecordError(err)
			ackSpan.SetStatus(codes.Error, "failed to dead-letter message")
			log.Error(ackCtx, "Failed to dead-letter message", "error", err, "offset", msg.Offset)
		} else {
			h.metrics.IncMessageDeadLettered(ackCtx, msg.Topic)
		}
	}

	sess.MarkMessage(msg, "")
	sess.Commit()
}

func withHeader(headers []sarama.RecordHeader, key, value string) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(headers)+1)
	for _, h := range headers {
		if string(h.Key) == key {
			continue
		}
		out = append(out, h)
	}
	return append(out, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
