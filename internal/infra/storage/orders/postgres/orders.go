// Package postgres implements the order repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/internal/infra/storage"
)

var _ orders.Repository = (*orderStore)(nil)

// orderStore implements orders.Repository on top of the orders table.
type orderStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewOrderStore creates a PostgreSQL-backed order repository.
func NewOrderStore(pool *pgxpool.Pool, tracer trace.Tracer) *orderStore {
	return &orderStore{db: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
	attribute.String("db.sql.table", "orders"),
}

const queryTimeout = 3 * time.Second

const orderColumns = `id, book_id, quantity, total_price, customer_name, customer_email, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	if err := row.Scan(
		&o.ID,
		&o.BookID,
		&o.Quantity,
		&o.TotalPrice,
		&o.CustomerName,
		&o.CustomerEmail,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	return &o, nil
}

// Create inserts o and fills in the generated ID and timestamps.
func (s *orderStore) Create(ctx context.Context, o *orders.Order) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.Int64("book_id", o.BookID),
		attribute.Int("quantity", o.Quantity),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_order", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()

		const q = `
			INSERT INTO orders (book_id, quantity, total_price, customer_name, customer_email, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`

		createdAt, updatedAt := o.CreatedAt, o.UpdatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
			updatedAt = createdAt
		}

		err := s.db.QueryRow(ctx, q,
			o.BookID, o.Quantity, o.TotalPrice, o.CustomerName, o.CustomerEmail, string(o.Status), createdAt, updatedAt,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("CreateOrder insert error: %w", err)
		}

		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("order_id", o.ID))
		return nil
	})
}

// GetByID returns orders.ErrOrderNotFound when no row matches.
func (s *orderStore) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("order_id", id))

	var o *orders.Order
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_order", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

		var err error
		o, err = scanOrder(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("GetOrder query error: %w", err)
		}
		return nil
	})
	return o, err
}

// List returns a page of orders in creation order.
func (s *orderStore) List(ctx context.Context, offset, limit int) ([]*orders.Order, error) {
	dbAttrs := append(defaultDBAttributes,
		attribute.Int("offset", offset),
		attribute.Int("limit", limit),
	)

	var out []*orders.Order
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_orders", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx,
			`SELECT `+orderColumns+` FROM orders ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
		if err != nil {
			return fmt.Errorf("ListOrders query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("ListOrders scan error: %w", err)
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateStatus sets the status of order id and returns the updated row.
func (s *orderStore) UpdateStatus(ctx context.Context, id int64, status orders.Status) (*orders.Order, error) {
	dbAttrs := append(defaultDBAttributes,
		attribute.Int64("order_id", id),
		attribute.String("status", status.String()),
	)

	var o *orders.Order
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_order_status", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING `+orderColumns,
			id, string(status))

		var err error
		o, err = scanOrder(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("UpdateOrderStatus query error: %w", err)
		}
		return nil
	})
	return o, err
}

// Delete removes order id.
func (s *orderStore) Delete(ctx context.Context, id int64) error {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("order_id", id))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_order", dbAttrs, func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("DeleteOrder exec error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return orders.ErrOrderNotFound
		}
		return nil
	})
}
