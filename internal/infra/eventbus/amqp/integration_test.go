//go:build integration

package amqp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

func startRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	amqpPort := nat.Port("5672/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{string(amqpPort)},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(amqpPort),
				wait.ForLog("Server startup complete"),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, amqpPort)
	require.NoError(t, err)

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func integrationBus(t *testing.T, url, queue string) *EventBus {
	t.Helper()
	bus, err := NewEventBus(&Config{
		URL:               url,
		ClientName:        t.Name(),
		Exchange:          testExchange,
		Queue:             queue,
		Prefetch:          1,
		PublisherConfirms: true,
		Policy:            reliability.DefaultPolicy(),
	}, logger.Noop(), newCountingMetrics(), noop.NewTracerProvider().Tracer(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRabbitMQOrderCreatedRoundTrip(t *testing.T) {
	url := startRabbitMQ(t)

	consumer := integrationBus(t, url, testQueue)
	publisher := integrationBus(t, url, "")

	received := make(chan orders.OrderCreatedEvent, 3)
	require.NoError(t, consumer.Subscribe(context.Background(),
		[]events.EventType{orders.EventTypeOrderCreated},
		func(_ context.Context, evt events.EventEnvelope, _ events.AckFunc) error {
			received <- evt.Payload.(orders.OrderCreatedEvent)
			return nil
		},
	))
	require.Eventually(t, func() bool { return consumer.State() == events.StateIdle }, 30*time.Second, 50*time.Millisecond)

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, publisher.Publish(context.Background(), events.EventEnvelope{
			Type:    orders.EventTypeOrderCreated,
			Payload: orderEvent(id),
		}, events.WithKey(fmt.Sprint(id))))
	}

	for want := int64(1); want <= 3; want++ {
		select {
		case got := <-received:
			assert.Equal(t, want, got.Details.ID)
		case <-time.After(10 * time.Second):
			t.Fatalf("order %d was not delivered", want)
		}
	}
}
