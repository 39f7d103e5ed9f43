package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

func newLedgerStore() *memory.Store {
	s := memory.New()
	s.PutProduct(domain.Product{ID: "p-rice", StoreID: "s1", Name: "Beras 5kg", Price: 70000, Stock: 10})
	s.PutProduct(domain.Product{ID: "p-oil", StoreID: "s1", Name: "Minyak 2L", Price: 35000, Stock: 3})
	s.PutProduct(domain.Product{ID: "p-other", StoreID: "s2", Name: "Other Store", Price: 1000, Stock: 50})
	return s
}

func TestCheckAvailabilityReportsFirstShortLine(t *testing.T) {
	l := New(newLedgerStore())

	shortage, err := l.CheckAvailability(context.Background(), "s1", []domain.SaleItemRequest{
		{ProductID: "p-rice", Quantity: 2},
		{ProductID: "p-oil", Quantity: 4},
	})
	require.NoError(t, err)
	require.NotNil(t, shortage)
	require.Equal(t, "p-oil", shortage.ProductID)
	require.Equal(t, "Minyak 2L", shortage.Name)
	require.Equal(t, 3, shortage.Available)
	require.Equal(t, 4, shortage.Requested)
}

func TestCheckAvailabilitySumsRepeatedLines(t *testing.T) {
	l := New(newLedgerStore())

	shortage, err := l.CheckAvailability(context.Background(), "s1", []domain.SaleItemRequest{
		{ProductID: "p-oil", Quantity: 2},
		{ProductID: "p-oil", Quantity: 2},
	})
	require.NoError(t, err)
	require.NotNil(t, shortage)
	require.Equal(t, 4, shortage.Requested)

	shortage, err = l.CheckAvailability(context.Background(), "s1", []domain.SaleItemRequest{
		{ProductID: "p-rice", Quantity: 10},
	})
	require.NoError(t, err)
	require.Nil(t, shortage)
}

func TestCheckAvailabilityIsStoreScoped(t *testing.T) {
	l := New(newLedgerStore())

	shortage, err := l.CheckAvailability(context.Background(), "s1", []domain.SaleItemRequest{
		{ProductID: "p-other", Quantity: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, shortage)
	require.Equal(t, 0, shortage.Available)
}

func TestRevalidateRejectsUnknownProduct(t *testing.T) {
	s := newLedgerStore()
	l := New(s)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := l.Revalidate(ctx, tx, "s1", []domain.SaleItemRequest{{ProductID: "p-missing", Quantity: 1}})
		return err
	})
	require.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	s := newLedgerStore()
	l := New(s)
	oil := domain.Product{ID: "p-oil", Name: "Minyak 2L"}

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		stock, err := l.Decrement(ctx, tx, "s1", oil, 2)
		require.NoError(t, err)
		require.Equal(t, 1, stock)

		_, err = l.Decrement(ctx, tx, "s1", oil, 2)
		return err
	})

	var shortErr *store.InsufficientStockError
	require.True(t, errors.As(err, &shortErr))
	require.Equal(t, 1, shortErr.Available)
	require.Equal(t, 2, shortErr.Requested)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Equal(t, 3, s.Stock("s1", "p-oil"), "failed transaction must not keep the first decrement")
}
