package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/invoice"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// CommitSale turns a cart into a persisted sale. Stock decrements, the invoice
// number, the sale rows and any receivable are written in one transaction;
// stock notifications and cache eviction follow the commit and cannot fail it.
func (s *Service) CommitSale(ctx context.Context, req domain.CommitSaleRequest) (*domain.Sale, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}

	draft, err := s.prepareSale(principal, req)
	if err != nil {
		s.metrics.SaleFailed("validation")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.precheckStock(ctx, draft); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.metrics.SaleFailed("insufficient_stock")
		}
		return nil, err
	}

	start := time.Now()
	sale, changes, err := s.commitWithRetry(ctx, draft)
	if err != nil {
		s.metrics.SaleFailed(failureReason(err))
		return nil, err
	}
	s.metrics.SaleCommitted(sale.Status, time.Since(start))
	s.logger.InfoContext(ctx, "sale committed",
		slog.String("store_id", sale.StoreID),
		slog.String("invoice", sale.InvoiceNumber),
		slog.String("status", sale.Status),
		slog.Int64("total", sale.Total),
	)

	s.afterCommit(ctx, sale.StoreID, changes)
	return sale, nil
}

// precheckStock rejects a cart the store plainly cannot serve before any
// transaction is opened. The decrement inside the transaction stays
// authoritative, so a failed read only skips the early answer.
func (s *Service) precheckStock(ctx context.Context, draft saleDraft) error {
	shortage, err := s.ledger.CheckAvailability(ctx, draft.sale.StoreID, draft.items)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.WarnContext(ctx, "stock pre-check skipped",
			slog.String("store_id", draft.sale.StoreID),
			slog.Any("error", err),
		)
		return nil
	}
	if shortage == nil {
		return nil
	}
	return &store.InsufficientStockError{
		ProductID: shortage.ProductID,
		Name:      shortage.Name,
		Available: shortage.Available,
		Requested: shortage.Requested,
	}
}

type saleDraft struct {
	sale  domain.Sale
	items []domain.SaleItemRequest
}

// prepareSale checks the request without touching storage and computes the
// sale totals.
func (s *Service) prepareSale(principal domain.Principal, req domain.CommitSaleRequest) (saleDraft, error) {
	if len(req.Items) == 0 {
		return saleDraft{}, ErrEmptyCart
	}
	attendantID := strings.TrimSpace(req.AttendantID)
	if attendantID == "" {
		return saleDraft{}, ErrAttendantRequired
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.SaleStatusPaid
	}
	req.Status = status
	var memberID *string
	if req.MemberID != nil && strings.TrimSpace(*req.MemberID) != "" {
		id := strings.TrimSpace(*req.MemberID)
		memberID = &id
	}
	if domain.IsCreditStatus(status) && memberID == nil {
		return saleDraft{}, ErrMemberRequired
	}
	if err := s.validateStruct(req); err != nil {
		return saleDraft{}, err
	}

	details := make([]domain.SaleDetail, 0, len(req.Items))
	var cartTotal int64
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Price > math.MaxInt64/int64(item.Quantity) {
			return saleDraft{}, fmt.Errorf("%w: line %s amount out of range", ErrValidation, item.ProductID)
		}
		subtotal := item.Price * int64(item.Quantity)
		if cartTotal > math.MaxInt64-subtotal {
			return saleDraft{}, fmt.Errorf("%w: cart total out of range", ErrValidation)
		}
		cartTotal += subtotal
		details = append(details, domain.SaleDetail{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Discount:  item.Discount,
			Subtotal:  subtotal,
		})
	}
	if req.Total != 0 && req.Total != cartTotal {
		return saleDraft{}, fmt.Errorf("%w: total %d does not match cart lines %d", ErrValidation, req.Total, cartTotal)
	}
	if req.AdditionalDiscount > cartTotal {
		return saleDraft{}, fmt.Errorf("%w: additional discount exceeds cart total", ErrValidation)
	}
	total := cartTotal - req.AdditionalDiscount
	if status == domain.SaleStatusPaid && req.Payment < total {
		return saleDraft{}, fmt.Errorf("%w: payment %d does not cover total %d", ErrValidation, req.Payment, total)
	}

	paymentMethod := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if paymentMethod == "" {
		paymentMethod = domain.PaymentMethodCash
	}
	var reference *string
	if req.ReferenceNumber != nil && strings.TrimSpace(*req.ReferenceNumber) != "" {
		ref := strings.TrimSpace(*req.ReferenceNumber)
		reference = &ref
	}

	return saleDraft{
		sale: domain.Sale{
			StoreID:            principal.StoreID,
			CashierID:          principal.UserID,
			AttendantID:        attendantID,
			MemberID:           memberID,
			Total:              total,
			Tax:                req.Tax,
			Payment:            req.Payment,
			Change:             max(req.Payment-total, 0),
			Discount:           req.Discount,
			AdditionalDiscount: req.AdditionalDiscount,
			Status:             status,
			PaymentMethod:      paymentMethod,
			ReferenceNumber:    reference,
			Details:            details,
		},
		items: req.Items,
	}, nil
}

// commitWithRetry repeats the whole unit of work after transient storage
// failures. Once an attempt starts it is not cancelled by the caller.
func (s *Service) commitWithRetry(ctx context.Context, draft saleDraft) (*domain.Sale, []domain.StockChange, error) {
	txCtx := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= s.opts.CommitMaxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.CommitRetried()
			if err := s.sleep(ctx, backoff(s.opts.CommitRetryBaseDelay, attempt-1)); err != nil {
				return nil, nil, lastErr
			}
		}

		sale, changes, err := s.commitOnce(txCtx, draft)
		if err == nil {
			return sale, changes, nil
		}
		if !retryable(err) {
			return nil, nil, err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "sale commit attempt failed",
			slog.String("store_id", draft.sale.StoreID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	if errors.Is(lastErr, store.ErrConflict) {
		return nil, nil, fmt.Errorf("%w: %w", invoice.ErrInvoiceCollision, lastErr)
	}
	return nil, nil, lastErr
}

func (s *Service) commitOnce(ctx context.Context, draft saleDraft) (*domain.Sale, []domain.StockChange, error) {
	var (
		sale    domain.Sale
		changes []domain.StockChange
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale = draft.sale
		sale.Details = slices.Clone(draft.sale.Details)
		changes = make([]domain.StockChange, 0, len(sale.Details))

		products, err := s.ledger.Revalidate(ctx, tx, sale.StoreID, draft.items)
		if err != nil {
			return err
		}
		if err := s.loadParties(ctx, tx, &sale); err != nil {
			return err
		}

		sale.ID = xid.New("sale")
		sale.Date = s.now()
		number, err := s.invoices.Next(ctx, tx, sale.StoreID, sale.Date)
		if err != nil {
			return err
		}
		sale.InvoiceNumber = number

		for i := range sale.Details {
			p := products[sale.Details[i].ProductID]
			sale.Details[i].Product = &domain.ProductSummary{ID: p.ID, SKU: p.SKU, Name: p.Name}
		}
		if err := tx.InsertSale(ctx, &sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}

		for _, d := range sale.Details {
			stock, err := s.ledger.Decrement(ctx, tx, sale.StoreID, products[d.ProductID], d.Quantity)
			if err != nil {
				return err
			}
			changes = append(changes, domain.StockChange{ProductID: d.ProductID, Stock: stock})
		}

		_, err = s.receivables.Create(ctx, tx, sale)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &sale, changes, nil
}

// loadParties checks that cashier, attendant and member belong to the store
// and attaches their summaries.
func (s *Service) loadParties(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	cashier, err := tx.GetUser(ctx, sale.StoreID, sale.CashierID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: cashier %s is not registered in this store", ErrForbidden, sale.CashierID)
	}
	if err != nil {
		return err
	}
	sale.Cashier = &domain.PersonSummary{ID: cashier.ID, Name: cashier.Name}

	attendant, err := tx.GetUser(ctx, sale.StoreID, sale.AttendantID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: attendant %s not found", ErrValidation, sale.AttendantID)
	}
	if err != nil {
		return err
	}
	sale.Attendant = &domain.PersonSummary{ID: attendant.ID, Name: attendant.Name}

	if sale.MemberID == nil {
		return nil
	}
	member, err := tx.GetMember(ctx, sale.StoreID, *sale.MemberID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: member %s not found", ErrValidation, *sale.MemberID)
	}
	if err != nil {
		return err
	}
	sale.Member = &domain.PersonSummary{ID: member.ID, Name: member.Name}
	return nil
}

// afterCommit runs the best-effort side effects of a committed sale on a
// context the caller cannot cancel.
func (s *Service) afterCommit(ctx context.Context, storeID string, changes []domain.StockChange) {
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
	defer cancel()

	if err := s.notifier.StockChanged(sideCtx, storeID, changes); err != nil {
		s.metrics.SideEffectFailed("notify")
		s.logger.WarnContext(ctx, "stock notification failed", slog.String("store_id", storeID), slog.Any("error", err))
	}
	s.cache.InvalidateStore(sideCtx, storeID)
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrTransient) || errors.Is(err, store.ErrConflict)
}

// backoff doubles base per retry and adds up to half of base as jitter.
func backoff(base time.Duration, retry int) time.Duration {
	d := base << (retry - 1)
	return d + rand.N(base/2+1)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrValidation), errors.Is(err, store.ErrNotFound):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, invoice.ErrInvoiceCollision):
		return "invoice_collision"
	case errors.Is(err, store.ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}
