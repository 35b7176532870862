package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/notifications"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
	dedup "github.com/ahrav/bookstore-events/internal/infra/dedup/memory"
	eventdispatcher "github.com/ahrav/bookstore-events/internal/infra/event_dispatcher"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/memory"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/reliability"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

type mockMailer struct{ mock.Mock }

func (m *mockMailer) Send(ctx context.Context, msg notifications.Email) error {
	return m.Called(ctx, msg).Error(0)
}

type mockProcessedStore struct{ mock.Mock }

func (m *mockProcessedStore) Seen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockProcessedStore) MarkProcessed(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func order42() orders.OrderDetails {
	return orders.OrderDetails{
		ID:            42,
		BookID:        7,
		Quantity:      2,
		TotalPrice:    39.98,
		CustomerName:  "Jane Reader",
		CustomerEmail: "jane@example.com",
		Status:        orders.StatusPending,
		CreatedAt:     "2024-05-01T10:00:00Z",
	}
}

func envelope(d orders.OrderDetails) events.EventEnvelope {
	return events.EventEnvelope{
		Type:    orders.EventTypeOrderCreated,
		Payload: orders.OrderCreatedEvent{Details: d},
	}
}

func newHandler(m notifications.Mailer, p notifications.ProcessedStore) *OrderCreatedHandler {
	return NewOrderCreatedHandler(m, p, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestBuildConfirmation(t *testing.T) {
	email, err := BuildConfirmation(order42())
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", email.To)
	assert.Equal(t, "Order Confirmation - Order #42", email.Subject)
	for _, line := range []string{
		"Dear Jane Reader,",
		"Order ID: 42",
		"Book ID: 7",
		"Quantity: 2",
		"Total Price: $39.98",
		"Status: pending",
		"Book Store Team",
	} {
		assert.Contains(t, email.TextBody, line)
	}
	assert.Contains(t, email.HTMLBody, "Order Confirmation</h2>")
	assert.Contains(t, email.HTMLBody, "Order #42</h3>")
	assert.Contains(t, email.HTMLBody, "$39.98")

	again, err := BuildConfirmation(order42())
	require.NoError(t, err)
	assert.Equal(t, email, again)
}

func TestBuildConfirmationEscapesHTML(t *testing.T) {
	d := order42()
	d.CustomerName = "<script>x</script>"

	email, err := BuildConfirmation(d)
	require.NoError(t, err)
	assert.NotContains(t, email.HTMLBody, "<script>")
	assert.Contains(t, email.TextBody, "Dear <script>x</script>,")
}

func TestBuildConfirmationDefaultsStatus(t *testing.T) {
	d := order42()
	d.Status = ""

	email, err := BuildConfirmation(d)
	require.NoError(t, err)
	assert.Contains(t, email.TextBody, "Status: pending")
}

func TestHandleEvent(t *testing.T) {
	sendErr := errors.New("relay unavailable")

	tests := []struct {
		name      string
		payload   any
		setup     func(m *mockMailer, p *mockProcessedStore)
		wantErr   error
		wantCalls int
	}{
		{
			name:    "sends confirmation and records it",
			payload: orders.OrderCreatedEvent{Details: order42()},
			setup: func(m *mockMailer, p *mockProcessedStore) {
				p.On("Seen", mock.Anything, "order-42").Return(false, nil)
				m.On("Send", mock.Anything, mock.MatchedBy(func(e notifications.Email) bool {
					return e.To == "jane@example.com" && e.Subject == "Order Confirmation - Order #42"
				})).Return(nil)
				p.On("MarkProcessed", mock.Anything, "order-42").Return(nil)
			},
			wantCalls: 1,
		},
		{
			name:    "already notified order is skipped",
			payload: orders.OrderCreatedEvent{Details: order42()},
			setup: func(m *mockMailer, p *mockProcessedStore) {
				p.On("Seen", mock.Anything, "order-42").Return(true, nil)
			},
		},
		{
			name:    "lookup failure still sends",
			payload: orders.OrderCreatedEvent{Details: order42()},
			setup: func(m *mockMailer, p *mockProcessedStore) {
				p.On("Seen", mock.Anything, "order-42").Return(false, errors.New("redis down"))
				m.On("Send", mock.Anything, mock.Anything).Return(nil)
				p.On("MarkProcessed", mock.Anything, "order-42").Return(errors.New("redis down"))
			},
			wantCalls: 1,
		},
		{
			name:    "send failure is reported",
			payload: orders.OrderCreatedEvent{Details: order42()},
			setup: func(m *mockMailer, p *mockProcessedStore) {
				p.On("Seen", mock.Anything, "order-42").Return(false, nil)
				m.On("Send", mock.Anything, mock.Anything).Return(sendErr)
			},
			wantErr:   sendErr,
			wantCalls: 1,
		},
		{
			name:    "wrong payload type",
			payload: "not an order",
			setup:   func(*mockMailer, *mockProcessedStore) {},
			wantErr: orders.ErrMalformedEvent,
		},
		{
			name:    "missing customer email",
			payload: orders.OrderCreatedEvent{Details: orders.OrderDetails{ID: 1, BookID: 1, Quantity: 1, Status: orders.StatusPending}},
			setup:   func(*mockMailer, *mockProcessedStore) {},
			wantErr: orders.ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, p := new(mockMailer), new(mockProcessedStore)
			tt.setup(m, p)
			h := newHandler(m, p)

			var acks []error
			err := h.HandleEvent(context.Background(), events.EventEnvelope{
				Type:    orders.EventTypeOrderCreated,
				Payload: tt.payload,
			}, func(err error) { acks = append(acks, err) })

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, acks, 1)
			assert.Equal(t, err, acks[0])
			m.AssertNumberOfCalls(t, "Send", tt.wantCalls)
			m.AssertExpectations(t)
			p.AssertExpectations(t)
		})
	}
}

func TestHandleEventWithoutProcessedStore(t *testing.T) {
	m := new(mockMailer)
	m.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()
	h := newHandler(m, nil)

	for range 2 {
		require.NoError(t, h.HandleEvent(context.Background(), envelope(order42()), func(error) {}))
	}
	m.AssertExpectations(t)
}

// recordingMailer captures sent emails for the pipeline test.
type recordingMailer struct {
	mu   sync.Mutex
	sent []notifications.Email
	done chan struct{}
}

func (r *recordingMailer) Send(_ context.Context, e notifications.Email) error {
	r.mu.Lock()
	r.sent = append(r.sent, e)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestOrderCreatedPipeline(t *testing.T) {
	ctx := context.Background()
	tracer := noop.NewTracerProvider().Tracer("test")

	bus := memory.NewEventBus(reliability.DefaultPolicy(), logger.Noop(), nil, tracer)
	defer bus.Close()

	mailer := &recordingMailer{done: make(chan struct{}, 2)}
	dispatcher := eventdispatcher.New(tracer, logger.Noop())
	require.NoError(t, dispatcher.RegisterHandler(ctx,
		NewOrderCreatedHandler(mailer, dedup.NewStore(time.Hour), logger.Noop(), tracer)))

	publisher := events.NewBusPublisher(bus)
	evt := orders.OrderCreatedEvent{Details: order42()}
	require.NoError(t, publisher.PublishDomainEvent(ctx, evt, events.WithKey("42")))
	// A redelivered copy of the same order must not produce a second email.
	require.NoError(t, publisher.PublishDomainEvent(ctx, evt, events.WithKey("42")))

	require.NoError(t, bus.Subscribe(ctx, dispatcher.EventTypes(), dispatcher.Dispatch))

	select {
	case <-mailer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
	}
	require.Eventually(t, func() bool { return bus.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	require.Len(t, mailer.sent, 1)
	sent := mailer.sent[0]
	assert.Equal(t, "jane@example.com", sent.To)
	assert.Equal(t, "Order Confirmation - Order #42", sent.Subject)
	assert.Contains(t, sent.TextBody, "Quantity: 2")
	assert.Contains(t, sent.TextBody, "Total Price: $39.98")
}
