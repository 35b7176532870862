package orders

import "context"

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, offset, limit int) ([]*Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (*Order, error)
	Delete(ctx context.Context, id int64) error
}

// Book is the subset of a catalog entry the order workflow reads.
type Book struct {
	ID    int64   `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// Catalog is the external book inventory.
type Catalog interface {
	// GetBook returns ErrBookNotFound when the catalog does not know the book
	// and ErrCatalogUnavailable when it cannot be reached.
	GetBook(ctx context.Context, id int64) (*Book, error)
	// UpdateStock sets the remaining stock of a book.
	UpdateStock(ctx context.Context, id int64, stock int) error
}
