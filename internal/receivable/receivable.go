package receivable

import (
	"context"
	"fmt"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Manager struct {
	now func() time.Time
}

func NewManager() *Manager {
	return &Manager{now: func() time.Time { return time.Now().UTC() }}
}

// Required reports whether the sale leaves money owed by a known member.
func Required(sale domain.Sale) bool {
	return domain.IsOutstandingStatus(sale.Status) &&
		sale.MemberID != nil && *sale.MemberID != "" &&
		sale.Total-sale.Payment > 0
}

func StatusFor(amountPaid int64) string {
	if amountPaid > 0 {
		return domain.ReceivableStatusPartiallyPaid
	}
	return domain.ReceivableStatusUnpaid
}

// Create records the receivable for a sale inside its commit transaction.
// A sale never gets more than one; repeated calls return the stored row.
func (m *Manager) Create(ctx context.Context, tx store.Tx, sale domain.Sale) (*domain.Receivable, error) {
	if !Required(sale) {
		return nil, nil
	}
	r, _, err := tx.InsertReceivable(ctx, domain.Receivable{
		ID:         xid.New("rcv"),
		SaleID:     sale.ID,
		StoreID:    sale.StoreID,
		MemberID:   *sale.MemberID,
		AmountDue:  sale.Total,
		AmountPaid: sale.Payment,
		Status:     StatusFor(sale.Payment),
		CreatedAt:  m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("receivable: create for sale %s: %w", sale.ID, err)
	}
	return r, nil
}
