package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// fillTimeout bounds a shared page load, which outlives any one caller.
	fillTimeout = 10 * time.Second
)

// ListSales returns a page of the caller's store sales, newest first. Pages
// are served from the read cache when present; concurrent misses for the same
// page share one database read.
func (s *Service) ListSales(ctx context.Context, memberID string, page, limit int) (*domain.SalePage, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)

	filter := domain.SaleFilter{
		StoreID:  principal.StoreID,
		MemberID: strings.TrimSpace(memberID),
		Page:     page,
		Limit:    limit,
	}
	key := cache.SalesListKey(filter.StoreID, filter.MemberID, page, limit)

	var cached domain.SalePage
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()

		fence := s.cache.Fence(fillCtx, filter.StoreID)
		sales, total, err := s.repo.ListSales(fillCtx, filter)
		if err != nil {
			return nil, fmt.Errorf("list sales: %w", err)
		}
		result := &domain.SalePage{Sales: sales, Pagination: domain.NewPagination(page, limit, total)}
		s.cache.SetJSON(fillCtx, key, result, s.opts.SalesCacheTTL, fence)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.SalePage), nil
	}
}

// ListProducts returns the store's products with their current stock.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.ProductListKey(principal.StoreID)

	var cached []domain.Product
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	fence := s.cache.Fence(ctx, principal.StoreID)
	products, err := s.repo.ListProducts(ctx, principal.StoreID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	s.cache.SetJSON(ctx, key, products, s.opts.SalesCacheTTL, fence)
	return products, nil
}

// CheckAvailability is the advisory pre-check a register runs before
// submitting a cart. A positive answer does not reserve stock.
func (s *Service) CheckAvailability(ctx context.Context, req domain.AvailabilityRequest) (*domain.AvailabilityResult, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	shortage, err := s.ledger.CheckAvailability(ctx, principal.StoreID, req.Items)
	if err != nil {
		return nil, err
	}
	return &domain.AvailabilityResult{Available: shortage == nil, Shortage: shortage}, nil
}
