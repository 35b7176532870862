// Package orders exposes the order workflow over HTTP.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apporders "github.com/ahrav/bookstore-events/internal/app/orders"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// Service is the order workflow the handlers drive.
type Service interface {
	PlaceOrder(ctx context.Context, req apporders.PlaceOrderRequest) (*orders.Order, error)
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	ListOrders(ctx context.Context, offset, limit int) ([]*orders.Order, error)
	UpdateStatus(ctx context.Context, id int64, status orders.Status) (*orders.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
}

// Config contains the dependencies needed by the order handlers.
type Config struct {
	Log     *logger.Logger
	Service Service
}

// Routes binds all the order endpoints.
func Routes(r chi.Router, cfg Config) {
	h := handlers{log: cfg.Log, svc: cfg.Service, validate: validator.New(validator.WithRequiredStructEnabled())}

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Patch("/{id}", h.update)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type handlers struct {
	log      *logger.Logger
	svc      Service
	validate *validator.Validate
}

type createRequest struct {
	BookID        int64  `json:"book_id" validate:"gt=0"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
	CustomerName  string `json:"customer_name" validate:"required"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
}

type updateRequest struct {
	Status string `json:"status" validate:"required"`
}

type orderResponse struct {
	ID            int64     `json:"id"`
	BookID        int64     `json:"book_id"`
	Quantity      int       `json:"quantity"`
	TotalPrice    float64   `json:"total_price"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toResponse(o *orders.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		BookID:        o.BookID,
		Quantity:      o.Quantity,
		TotalPrice:    o.TotalPrice,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status.String(),
		CreatedAt:     o.CreatedAt,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the status codes clients of the order
// API rely on.
func (h handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		detail string
	)
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		status, detail = http.StatusNotFound, "Order not found"
	case errors.Is(err, orders.ErrBookNotFound):
		status, detail = http.StatusNotFound, "Book not found"
	case errors.Is(err, orders.ErrInsufficientStock):
		status, detail = http.StatusBadRequest, "Insufficient stock"
	case errors.Is(err, orders.ErrInvalidOrder), errors.Is(err, orders.ErrInvalidStatus):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, orders.ErrStockUpdateFailed):
		status, detail = http.StatusInternalServerError, "Failed to update book stock"
	case errors.Is(err, orders.ErrCatalogUnavailable):
		status, detail = http.StatusServiceUnavailable, "Book service unavailable"
	default:
		status, detail = http.StatusInternalServerError, "internal error"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "order request failed", "error", err, "status", status)
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (h handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid order id"})
		return 0, false
	}
	return id, true
}

func (h handlers) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.PlaceOrder(r.Context(), apporders.PlaceOrderRequest{
		BookID:        req.BookID,
		Quantity:      req.Quantity,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h handlers) list(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.svc.ListOrders(r.Context(), offset, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h handlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, orders.Status(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h handlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteOrder(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Order deleted successfully"})
}
