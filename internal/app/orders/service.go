// Package orders implements the order placement workflow.
package orders

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// Metrics records order workflow outcomes.
type Metrics interface {
	IncOrdersPlaced(ctx context.Context)
	IncOrderFailures(ctx context.Context, reason string)
	IncEventPublishFailures(ctx context.Context)
}

// PlaceOrderRequest carries what a customer submits to buy a book.
type PlaceOrderRequest struct {
	BookID        int64
	Quantity      int
	CustomerName  string
	CustomerEmail string
}

// Service coordinates the catalog, the order repository and the event publisher.
type Service struct {
	repo      orders.Repository
	catalog   orders.Catalog
	publisher events.DomainEventPublisher
	metrics   Metrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates an order Service.
func NewService(
	repo orders.Repository,
	catalog orders.Catalog,
	publisher events.DomainEventPublisher,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("component", "order_service"),
		tracer:    tracer,
	}
}

// PlaceOrder checks availability, persists a pending order, reserves stock and
// announces the order. Publishing is best effort: once stock is reserved the
// order stands whatever happens to the event.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order_service.place_order",
		trace.WithAttributes(
			attribute.Int64("book_id", req.BookID),
			attribute.Int("quantity", req.Quantity),
		))
	defer span.End()

	order, err := s.placeOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncOrderFailures(ctx, failureReason(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order_id", order.ID))
	s.metrics.IncOrdersPlaced(ctx)

	s.publishOrderCreated(ctx, order)
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (*orders.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", orders.ErrInvalidOrder)
	}

	book, err := s.catalog.GetBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	if book.Stock < req.Quantity {
		return nil, fmt.Errorf("%w: book %d has %d in stock, %d requested",
			orders.ErrInsufficientStock, req.BookID, book.Stock, req.Quantity)
	}

	order, err := orders.NewOrder(req.BookID, req.Quantity, book.Price, req.CustomerName, req.CustomerEmail)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := s.catalog.UpdateStock(ctx, req.BookID, book.Stock-req.Quantity); err != nil {
		if delErr := s.repo.Delete(ctx, order.ID); delErr != nil {
			s.logger.Error(ctx, "Failed to roll back order after stock update failure",
				"order_id", order.ID, "error", delErr)
		}
		if !errors.Is(err, orders.ErrStockUpdateFailed) {
			err = fmt.Errorf("%w: %v", orders.ErrStockUpdateFailed, err)
		}
		return nil, err
	}

	return order, nil
}

func (s *Service) publishOrderCreated(ctx context.Context, order *orders.Order) {
	evt := orders.NewOrderCreatedEvent(order)
	key := fmt.Sprintf("%d", order.ID)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		s.metrics.IncEventPublishFailures(ctx)
		trace.SpanFromContext(ctx).AddEvent("order_event_publish_failed",
			trace.WithAttributes(attribute.String("error", err.Error())))
		s.logger.Error(ctx, "Failed to publish order event", "order_id", order.ID, "error", err)
		return
	}
	s.logger.Info(ctx, "Order created event published", "order_id", order.ID)
}

// GetOrder returns order id.
func (s *Service) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order_service.get_order",
		trace.WithAttributes(attribute.Int64("order_id", id)))
	defer span.End()

	return s.repo.GetByID(ctx, id)
}

// ListOrders returns a page of orders. A non-positive limit defaults to 100.
func (s *Service) ListOrders(ctx context.Context, offset, limit int) ([]*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order_service.list_orders")
	defer span.End()

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

// UpdateStatus moves order id to status.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status orders.Status) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order_service.update_status",
		trace.WithAttributes(
			attribute.Int64("order_id", id),
			attribute.String("status", status.String()),
		))
	defer span.End()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", orders.ErrInvalidStatus, status)
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

// DeleteOrder removes order id.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "order_service.delete_order",
		trace.WithAttributes(attribute.Int64("order_id", id)))
	defer span.End()

	return s.repo.Delete(ctx, id)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, orders.ErrBookNotFound):
		return "book_not_found"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrCatalogUnavailable):
		return "catalog_unavailable"
	case errors.Is(err, orders.ErrStockUpdateFailed):
		return "stock_update_failed"
	case errors.Is(err, orders.ErrInvalidOrder):
		return "invalid_order"
	default:
		return "internal"
	}
}
