package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
)

func mustOrder(t *testing.T, bookID int64) *orders.Order {
	t.Helper()
	o, err := orders.NewOrder(bookID, 1, 10, "Ada", "ada@example.com")
	require.NoError(t, err)
	return o
}

func TestOrderStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()

	a, b, c := mustOrder(t, 1), mustOrder(t, 2), mustOrder(t, 3)
	for _, o := range []*orders.Order{a, b, c} {
		require.NoError(t, s.Create(ctx, o))
	}
	assert.Equal(t, []int64{1, 2, 3}, []int64{a.ID, b.ID, c.ID})

	got, err := s.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.BookID)

	got.Quantity = 99
	again, err := s.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Quantity, "returned orders are copies")

	page, err := s.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].ID)

	empty, err := s.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	updated, err := s.UpdateStatus(ctx, 1, orders.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, updated.Status)

	_, err = s.UpdateStatus(ctx, 1, orders.Status("shipped"))
	assert.ErrorIs(t, err, orders.ErrInvalidStatus)

	require.NoError(t, s.Delete(ctx, 1))
	_, err = s.GetByID(ctx, 1)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 1), orders.ErrOrderNotFound)
}
