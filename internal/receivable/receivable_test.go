package receivable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

func ptr(s string) *string { return &s }

func TestRequired(t *testing.T) {
	member := ptr("m1")
	cases := []struct {
		name string
		sale domain.Sale
		want bool
	}{
		{"paid sale", domain.Sale{Status: domain.SaleStatusPaid, MemberID: member, Total: 100, Payment: 0}, false},
		{"unpaid with member", domain.Sale{Status: domain.SaleStatusUnpaid, MemberID: member, Total: 100}, true},
		{"partially paid", domain.Sale{Status: domain.SaleStatusPartiallyPaid, MemberID: member, Total: 100, Payment: 40}, true},
		{"credit", domain.Sale{Status: domain.SaleStatusCredit, MemberID: member, Total: 100}, true},
		{"credit paid with balance", domain.Sale{Status: domain.SaleStatusCreditPaid, MemberID: member, Total: 100, Payment: 60}, true},
		{"fully covered", domain.Sale{Status: domain.SaleStatusPartiallyPaid, MemberID: member, Total: 100, Payment: 100}, false},
		{"walk-in customer", domain.Sale{Status: domain.SaleStatusUnpaid, Total: 100}, false},
		{"empty member id", domain.Sale{Status: domain.SaleStatusUnpaid, MemberID: ptr(""), Total: 100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Required(tc.sale))
		})
	}
}

func TestCreateDerivesStatusFromPayment(t *testing.T) {
	s := memory.New()
	m := NewManager()

	var unpaid, partial *domain.Receivable
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		unpaid, err = m.Create(ctx, tx, domain.Sale{ID: "sale-1", StoreID: "s1", Status: domain.SaleStatusCredit, MemberID: ptr("m1"), Total: 90000})
		if err != nil {
			return err
		}
		partial, err = m.Create(ctx, tx, domain.Sale{ID: "sale-2", StoreID: "s1", Status: domain.SaleStatusPartiallyPaid, MemberID: ptr("m1"), Total: 90000, Payment: 50000})
		return err
	})
	require.NoError(t, err)

	require.Equal(t, domain.ReceivableStatusUnpaid, unpaid.Status)
	require.Equal(t, int64(90000), unpaid.AmountDue)
	require.Equal(t, int64(0), unpaid.AmountPaid)

	require.Equal(t, domain.ReceivableStatusPartiallyPaid, partial.Status)
	require.Equal(t, int64(90000), partial.AmountDue)
	require.Equal(t, int64(50000), partial.AmountPaid)
	require.Equal(t, "m1", partial.MemberID)
}

func TestCreateIsIdempotentPerSale(t *testing.T) {
	s := memory.New()
	m := NewManager()
	sale := domain.Sale{ID: "sale-1", StoreID: "s1", Status: domain.SaleStatusUnpaid, MemberID: ptr("m1"), Total: 5000}

	var first, second *domain.Receivable
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if first, err = m.Create(ctx, tx, sale); err != nil {
			return err
		}
		second, err = m.Create(ctx, tx, sale)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, s.ReceivableCount())
}

func TestCreateSkipsSettledSale(t *testing.T) {
	s := memory.New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := NewManager().Create(ctx, tx, domain.Sale{ID: "sale-1", Status: domain.SaleStatusPaid, MemberID: ptr("m1"), Total: 5000, Payment: 5000})
		require.Nil(t, r)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, s.ReceivableCount())
}
