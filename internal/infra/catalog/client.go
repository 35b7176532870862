// Package catalog talks to the book service that owns titles, prices and stock.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

var _ orders.Catalog = (*Client)(nil)

// Client is an orders.Catalog backed by the book service HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// NewClient returns a Client for the book service at baseURL. A zero timeout
// leaves requests bounded only by their context.
func NewClient(baseURL string, timeout time.Duration, logger *logger.Logger, tracer trace.Tracer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(&http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			}),
		},
		logger: logger.With("component", "catalog_client"),
		tracer: tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetBook fetches a book. Any non-200 answer is reported as ErrBookNotFound;
// failing to reach the service at all is ErrCatalogUnavailable.
func (c *Client) GetBook(ctx context.Context, id int64) (*orders.Book, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.get_book",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("book_id", id)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bookURL(id), nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("build get book request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "book service unreachable")
		c.logger.Warn(ctx, "Book service request failed", "book_id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", orders.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return nil, fmt.Errorf("%w: book %d (status %d)", orders.ErrBookNotFound, id, resp.StatusCode)
	}

	var book orders.Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid book payload")
		return nil, fmt.Errorf("%w: decode book %d: %v", orders.ErrCatalogUnavailable, id, err)
	}
	if book.ID == 0 {
		book.ID = id
	}

	return &book, nil
}

type stockUpdate struct {
	Stock int `json:"stock"`
}

// UpdateStock sets the absolute stock level of a book.
func (c *Client) UpdateStock(ctx context.Context, id int64, stock int) error {
	ctx, span := c.tracer.Start(ctx, "catalog.update_stock",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("book_id", id),
			attribute.Int("stock", stock),
		),
	)
	defer span.End()

	body, err := json.Marshal(stockUpdate{Stock: stock})
	if err != nil {
		return fmt.Errorf("encode stock update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.bookURL(id), bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build update stock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "book service unreachable")
		return fmt.Errorf("%w: %v", orders.ErrStockUpdateFailed, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("%w: book %d (status %d)", orders.ErrStockUpdateFailed, id, resp.StatusCode)
	}
	return nil
}

func (c *Client) bookURL(id int64) string { return fmt.Sprintf("%s/books/%d", c.baseURL, id) }
