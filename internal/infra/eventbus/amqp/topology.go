package amqp

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeKindTopic  = "topic"
	exchangeKindFanout = "fanout"

	// attemptHeader carries the 1-based processing attempt of a retried message.
	attemptHeader = "x-attempt"
)

// DeadLetterExchange returns the name of the dead-letter exchange for exchange.
func DeadLetterExchange(exchange string) string { return exchange + ".dlx" }

// DeadLetterQueue returns the name of the dead-letter queue for queue.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// declareExchange idempotently declares the durable topic exchange events are published to.
func declareExchange(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

// declareConsumerTopology declares everything a subscriber needs: the exchange,
// the durable queue bound with routingKeys and, when deadLetter is set, the
// dead-letter exchange and queue the main queue rejects into.
func declareConsumerTopology(ch Channel, cfg *Config, routingKeys []string, deadLetter bool) error {
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		return err
	}

	var args amqp.Table
	if deadLetter {
		dlx, dlq := DeadLetterExchange(cfg.Exchange), DeadLetterQueue(cfg.Queue)
		if err := ch.ExchangeDeclare(dlx, exchangeKindFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange %s: %w", dlx, err)
		}
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, "", dlx, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue %s: %w", dlq, err)
		}
		args = amqp.Table{"x-dead-letter-exchange": dlx}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(cfg.Queue, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s with key %s: %w", cfg.Queue, cfg.Exchange, key, err)
		}
	}
	return nil
}

// isPreconditionFailed reports whether the broker refused a declaration because
// an entity already exists with different arguments, such as a queue declared
// before a dead-letter policy was enabled.
func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}

// attemptOf reads the processing attempt recorded on a delivery. Messages that
// were never retried are on their first attempt.
func attemptOf(d *amqp.Delivery) int {
	v, ok := d.Headers[attemptHeader]
	if !ok {
		return 1
	}
	var n int
	switch a := v.(type) {
	case int:
		n = a
	case int16:
		n = int(a)
	case int32:
		n = int(a)
	case int64:
		n = int(a)
	default:
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}
