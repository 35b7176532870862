package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/internal/infra/storage/orders/memory"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) GetBook(ctx context.Context, id int64) (*orders.Book, error) {
	args := m.Called(ctx, id)
	book, _ := args.Get(0).(*orders.Book)
	return book, args.Error(1)
}

func (m *mockCatalog) UpdateStock(ctx context.Context, id int64, stock int) error {
	return m.Called(ctx, id, stock).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	return m.Called(ctx, evt, events.ApplyPublishOptions(opts...)).Error(0)
}

type nopMetrics struct{}

func (nopMetrics) IncOrdersPlaced(context.Context)          {}
func (nopMetrics) IncOrderFailures(context.Context, string) {}
func (nopMetrics) IncEventPublishFailures(context.Context)  {}

func setupService() (*Service, *memory.OrderStore, *mockCatalog, *mockPublisher) {
	repo := memory.NewOrderStore()
	cat := new(mockCatalog)
	pub := new(mockPublisher)
	svc := NewService(repo, cat, pub, nopMetrics{}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	return svc, repo, cat, pub
}

func validRequest() PlaceOrderRequest {
	return PlaceOrderRequest{BookID: 7, Quantity: 2, CustomerName: "Jane Reader", CustomerEmail: "jane@example.com"}
}

func TestPlaceOrder(t *testing.T) {
	ctx := context.Background()
	svc, repo, cat, pub := setupService()

	cat.On("GetBook", mock.Anything, int64(7)).Return(&orders.Book{ID: 7, Price: 19.99, Stock: 5}, nil)
	cat.On("UpdateStock", mock.Anything, int64(7), 3).Return(nil)
	pub.On("PublishDomainEvent", mock.Anything, mock.MatchedBy(func(e events.DomainEvent) bool {
		evt, ok := e.(orders.OrderCreatedEvent)
		return ok && evt.Details.ID == 1 && evt.Details.Quantity == 2 && evt.Details.Status == orders.StatusPending
	}), events.PublishParams{Key: "1"}).Return(nil)

	order, err := svc.PlaceOrder(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.ID)
	assert.InDelta(t, 39.98, order.TotalPrice, 1e-9)
	assert.Equal(t, orders.StatusPending, order.Status)

	stored, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", stored.CustomerEmail)

	cat.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPlaceOrderSurvivesPublisherOutage(t *testing.T) {
	ctx := context.Background()
	svc, repo, cat, pub := setupService()

	cat.On("GetBook", mock.Anything, int64(7)).Return(&orders.Book{ID: 7, Price: 10, Stock: 2}, nil)
	cat.On("UpdateStock", mock.Anything, int64(7), 0).Return(nil)
	pub.On("PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("dial tcp: connection refused"))

	order, err := svc.PlaceOrder(ctx, validRequest())
	require.NoError(t, err)
	require.NotNil(t, order)

	_, err = repo.GetByID(ctx, order.ID)
	assert.NoError(t, err, "order remains persisted")
	pub.AssertNumberOfCalls(t, "PublishDomainEvent", 1)
}

func TestPlaceOrderFailures(t *testing.T) {
	tests := []struct {
		name    string
		req     PlaceOrderRequest
		setup   func(c *mockCatalog)
		wantErr error
		stored  int
	}{
		{
			name: "book not found",
			req:  validRequest(),
			setup: func(c *mockCatalog) {
				c.On("GetBook", mock.Anything, int64(7)).Return(nil, orders.ErrBookNotFound)
			},
			wantErr: orders.ErrBookNotFound,
		},
		{
			name: "catalog unavailable",
			req:  validRequest(),
			setup: func(c *mockCatalog) {
				c.On("GetBook", mock.Anything, int64(7)).Return(nil, orders.ErrCatalogUnavailable)
			},
			wantErr: orders.ErrCatalogUnavailable,
		},
		{
			name: "insufficient stock",
			req:  validRequest(),
			setup: func(c *mockCatalog) {
				c.On("GetBook", mock.Anything, int64(7)).Return(&orders.Book{ID: 7, Price: 5, Stock: 1}, nil)
			},
			wantErr: orders.ErrInsufficientStock,
		},
		{
			name: "stock update failure rolls back",
			req:  validRequest(),
			setup: func(c *mockCatalog) {
				c.On("GetBook", mock.Anything, int64(7)).Return(&orders.Book{ID: 7, Price: 5, Stock: 9}, nil)
				c.On("UpdateStock", mock.Anything, int64(7), 7).Return(errors.New("boom"))
			},
			wantErr: orders.ErrStockUpdateFailed,
		},
		{
			name:    "non-positive quantity",
			req:     PlaceOrderRequest{BookID: 7, Quantity: 0, CustomerEmail: "a@b.c"},
			setup:   func(*mockCatalog) {},
			wantErr: orders.ErrInvalidOrder,
		},
		{
			name: "missing email",
			req:  PlaceOrderRequest{BookID: 7, Quantity: 1},
			setup: func(c *mockCatalog) {
				c.On("GetBook", mock.Anything, int64(7)).Return(&orders.Book{ID: 7, Price: 5, Stock: 9}, nil)
			},
			wantErr: orders.ErrInvalidOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, repo, cat, pub := setupService()
			tt.setup(cat)

			_, err := svc.PlaceOrder(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			all, err := repo.List(ctx, 0, 10)
			require.NoError(t, err)
			assert.Len(t, all, tt.stored)
			pub.AssertNotCalled(t, "PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrderQueries(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := setupService()

	o, err := orders.NewOrder(3, 1, 12.5, "Ada", "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, o))

	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	list, err := svc.ListOrders(ctx, -1, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	updated, err := svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, updated.Status)

	_, err = svc.UpdateStatus(ctx, o.ID, orders.Status("lost"))
	assert.ErrorIs(t, err, orders.ErrInvalidStatus)

	require.NoError(t, svc.DeleteOrder(ctx, o.ID))
	_, err = svc.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "book_not_found", failureReason(orders.ErrBookNotFound))
	assert.Equal(t, "stock_update_failed", failureReason(orders.ErrStockUpdateFailed))
	assert.Equal(t, "internal", failureReason(errors.New("x")))
}
