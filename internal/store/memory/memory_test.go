package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestWithinTxDiscardsWorkOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stock, ok, err := tx.DecrementStock(ctx, DemoStoreID, "prd-gula-1kg", 5)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 25, stock)

		_, err = tx.NextInvoiceSequence(ctx, DemoStoreID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NoError(t, tx.InsertSale(ctx, &domain.Sale{ID: "sale-1", StoreID: DemoStoreID, InvoiceNumber: "2024030100001"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 30, s.Stock(DemoStoreID, "prd-gula-1kg"))
	require.Zero(t, s.SaleCount())

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seq, err := tx.NextInvoiceSequence(ctx, DemoStoreID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		require.Equal(t, 1, seq, "rolled back counter must not advance")
		return err
	})
	require.NoError(t, err)
}

func TestDecrementStockIsGuarded(t *testing.T) {
	s := NewSeeded()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		stock, ok, err := tx.DecrementStock(ctx, DemoStoreID, "prd-roti-tawar", 26)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 25, stock)

		_, _, err = tx.DecrementStock(ctx, "store-other", "prd-roti-tawar", 1)
		require.ErrorIs(t, err, store.ErrProductNotFound)
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 25, s.Stock(DemoStoreID, "prd-roti-tawar"))
}

func TestInsertSaleRejectsDuplicateInvoice(t *testing.T) {
	s := New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertSale(ctx, &domain.Sale{ID: "a", StoreID: "s1", InvoiceNumber: "2024030100001"}))
		require.NoError(t, tx.InsertSale(ctx, &domain.Sale{ID: "b", StoreID: "s2", InvoiceNumber: "2024030100001"}))
		return tx.InsertSale(ctx, &domain.Sale{ID: "c", StoreID: "s1", InvoiceNumber: "2024030100001"})
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.Zero(t, s.SaleCount())
}

func TestInsertSaleSurfacesInvoiceLookupFailure(t *testing.T) {
	s := New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		lookupCtx, cancel := context.WithCancel(ctx)
		cancel()
		return tx.InsertSale(lookupCtx, &domain.Sale{ID: "a", StoreID: "s1", InvoiceNumber: "2024030100001"})
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, s.SaleCount())
}

func TestInsertReceivableKeepsFirstRow(t *testing.T) {
	s := New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		first, created, err := tx.InsertReceivable(ctx, domain.Receivable{ID: "r1", SaleID: "sale-1", AmountDue: 100})
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := tx.InsertReceivable(ctx, domain.Receivable{ID: "r2", SaleID: "sale-1", AmountDue: 999})
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, first.ID, again.ID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, s.ReceivableCount())

	r, err := s.GetReceivableBySale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), r.AmountDue)
}

func TestListSalesNewestFirstWithSummaries(t *testing.T) {
	s := NewSeeded()
	member := "mbr-budi"
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.PutSale(domain.Sale{ID: "old", StoreID: DemoStoreID, InvoiceNumber: "2024030100001", CashierID: "usr-cashier", Date: base})
	s.PutSale(domain.Sale{ID: "new", StoreID: DemoStoreID, InvoiceNumber: "2024030100002", CashierID: "usr-cashier", MemberID: &member, Date: base.Add(time.Hour)})

	sales, total, err := s.ListSales(context.Background(), domain.SaleFilter{StoreID: DemoStoreID, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "new", sales[0].ID)
	require.Equal(t, "Kasir Satu", sales[0].Cashier.Name)
	require.Equal(t, "Budi Santoso", sales[0].Member.Name)

	members, total, err := s.ListSales(context.Background(), domain.SaleFilter{StoreID: DemoStoreID, MemberID: member, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, members, 1)
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	s := NewSeeded()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithinTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
