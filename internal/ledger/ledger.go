// Package ledger guards per-store product stock.
//
// CheckAvailability is advisory: it reads without locks and its answer can be
// stale by the time a sale commits. Revalidate and Decrement run inside the
// commit transaction and are the only authority on whether stock suffices.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type Reader interface {
	GetProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error)
}

type Ledger struct {
	reader Reader
}

func New(reader Reader) *Ledger {
	return &Ledger{reader: reader}
}

// CheckAvailability returns the first cart line, in cart order, whose product
// cannot cover the quantity requested across all lines of the cart.
func (l *Ledger) CheckAvailability(ctx context.Context, storeID string, items []domain.SaleItemRequest) (*domain.Shortage, error) {
	ids, requested := demand(items)
	products, err := l.reader.GetProducts(ctx, storeID, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: read stock: %w", err)
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return &domain.Shortage{ProductID: id, Available: 0, Requested: requested[id]}, nil
		}
		if p.Stock < requested[id] {
			return &domain.Shortage{ProductID: id, Name: p.Name, Available: p.Stock, Requested: requested[id]}, nil
		}
	}
	return nil, nil
}

// Revalidate locks every product in the cart and checks stock under the lock.
func (l *Ledger) Revalidate(ctx context.Context, tx store.Tx, storeID string, items []domain.SaleItemRequest) (map[string]domain.Product, error) {
	ids, requested := demand(items)
	products, err := tx.LockProducts(ctx, storeID, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock products: %w", err)
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		if p.Stock < requested[id] {
			return nil, &store.InsufficientStockError{ProductID: id, Name: p.Name, Available: p.Stock, Requested: requested[id]}
		}
	}
	return products, nil
}

// Decrement applies the guarded write. It never leaves stock negative; when
// stock is short the error reports what is left.
func (l *Ledger) Decrement(ctx context.Context, tx store.Tx, storeID string, product domain.Product, qty int) (int, error) {
	stock, ok, err := tx.DecrementStock(ctx, storeID, product.ID, qty)
	if err != nil {
		return 0, fmt.Errorf("ledger: decrement %s: %w", product.ID, err)
	}
	if ok {
		return stock, nil
	}

	available, err := tx.ProductStock(ctx, storeID, product.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("ledger: read stock %s: %w", product.ID, err)
	}
	return 0, &store.InsufficientStockError{ProductID: product.ID, Name: product.Name, Available: available, Requested: qty}
}

// demand sums quantities per product and keeps first-seen order.
func demand(items []domain.SaleItemRequest) ([]string, map[string]int) {
	ids := make([]string, 0, len(items))
	requested := make(map[string]int, len(items))
	for _, item := range items {
		if _, seen := requested[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}
	return ids, requested
}
