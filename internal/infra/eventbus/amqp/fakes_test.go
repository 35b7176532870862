package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type ackRecord struct {
	tag     uint64
	nack    bool
	requeue bool
}

// fakeAcknowledger stands in for the channel a delivery arrived on.
type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
	failErr error
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.records = append(a.records, ackRecord{tag: tag})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return a.failErr
	}
	a.records = append(a.records, ackRecord{tag: tag, nack: true, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *fakeAcknowledger) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failErr = err
}

func (a *fakeAcknowledger) settled() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type publishRecord struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type binding struct{ queue, key, exchange string }

// fakeChannel records every call the bus makes on a channel.
type fakeChannel struct {
	mu         sync.Mutex
	closed     bool
	prefetch   int
	confirm    bool
	exchanges  map[string]string
	queues     map[string]amqp.Table
	bindings   []binding
	published  []publishRecord
	publishErr error
	notify     []chan *amqp.Error
	deliveries chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  make(map[string]string),
		queues:     make(map[string]amqp.Table),
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Confirm(bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm = true
	return nil
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges[name] = kind
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) PublishWithDeferredConfirmWithContext(
	_ context.Context,
	exchange, key string,
	_, _ bool,
	msg amqp.Publishing,
) (*amqp.DeferredConfirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.publishErr != nil {
		return nil, c.publishErr
	}
	c.published = append(c.published, publishRecord{exchange: exchange, key: key, msg: msg})
	return nil, nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, n := range c.notify {
		close(n)
	}
	c.notify = nil
	return nil
}

// drop simulates the broker tearing the channel down with err.
func (c *fakeChannel) drop(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, n := range c.notify {
		n <- err
		close(n)
	}
	c.notify = nil
	close(c.deliveries)
}

func (c *fakeChannel) publishes() []publishRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishRecord(nil), c.published...)
}

type fakeConnection struct {
	mu     sync.Mutex
	ch     *fakeChannel
	closed bool
}

func (c *fakeConnection) Channel() (Channel, error) { return c.ch, nil }

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error { return receiver }

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeBroker hands out fake connections and can refuse the first dials.
type fakeBroker struct {
	mu        sync.Mutex
	dials     int
	failFirst int
	conns     chan *fakeConnection
}

func newFakeBroker() *fakeBroker { return &fakeBroker{conns: make(chan *fakeConnection, 16)} }

func (f *fakeBroker) dial(string, amqp.Config) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dials <= f.failFirst {
		return nil, errors.New("dial tcp: connection refused")
	}
	conn := &fakeConnection{ch: newFakeChannel()}
	f.conns <- conn
	return conn, nil
}

func (f *fakeBroker) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeBroker) nextConn(t *testing.T) *fakeConnection {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for a broker connection")
		return nil
	}
}

// countingMetrics records bus counter increments.
type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{counts: make(map[string]int)} }

func (m *countingMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *countingMetrics) get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *countingMetrics) IncMessagePublished(context.Context, string)    { m.inc("published") }
func (m *countingMetrics) IncMessageConsumed(context.Context, string)     { m.inc("consumed") }
func (m *countingMetrics) IncPublishError(context.Context, string)        { m.inc("publish_error") }
func (m *countingMetrics) IncConsumeError(context.Context, string)        { m.inc("consume_error") }
func (m *countingMetrics) IncMessageRetried(context.Context, string)      { m.inc("retried") }
func (m *countingMetrics) IncMessageDeadLettered(context.Context, string) { m.inc("dead_lettered") }
