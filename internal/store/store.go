package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrProductNotFound   = fmt.Errorf("product %w", ErrNotFound)
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransient marks failures that may succeed on a fresh attempt: lock
	// timeouts, serialization failures, deadlocks and dropped connections.
	ErrTransient = errors.New("transient storage failure")
	// ErrConflict is a unique constraint violation inside a write.
	ErrConflict = errors.New("conflicting write")
)

// InsufficientStockError reports the product that could not be served.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the store-scoped persistence used by the sale engine.
type Repository interface {
	// WithinTx runs fn inside one transaction. Any error from fn rolls back
	// every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	GetReceivableBySale(ctx context.Context, saleID string) (*domain.Receivable, error)
}

// Tx is the set of writes and locking reads a sale commit performs.
type Tx interface {
	// LockProducts returns the requested products of the store and holds
	// their rows until the transaction ends. Missing ids are omitted.
	LockProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock subtracts qty only when at least qty is in stock. ok is
	// false, with no write, when stock is short.
	DecrementStock(ctx context.Context, storeID string, productID string, qty int) (newStock int, ok bool, err error)
	ProductStock(ctx context.Context, storeID string, productID string) (int, error)

	// NextInvoiceSequence atomically increments and returns the counter of
	// the store for the given day.
	NextInvoiceSequence(ctx context.Context, storeID string, day time.Time) (int, error)
	InvoiceExists(ctx context.Context, storeID string, invoiceNumber string) (bool, error)

	GetUser(ctx context.Context, storeID string, userID string) (*domain.User, error)
	GetMember(ctx context.Context, storeID string, memberID string) (*domain.Member, error)

	// InsertSale writes the sale and its details and assigns detail ids.
	InsertSale(ctx context.Context, sale *domain.Sale) error
	// InsertReceivable writes r unless the sale already has one; the stored
	// row is returned either way.
	InsertReceivable(ctx context.Context, r domain.Receivable) (*domain.Receivable, bool, error)
}
