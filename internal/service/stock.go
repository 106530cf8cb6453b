package service

import (
	"context"
	"fmt"
	"time"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
)

// RecordStockIn writes one batch covering every line of the request. Price
// fields left at zero on a line are snapshotted from the product at entry
// time; expiry is carried per line so one batch can hold mixed dates.
func (s *Service) RecordStockIn(ctx context.Context, req domain.StockInRequest) (domain.StockInResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.StockInResponse{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.StockInResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.StockInResponse{}, store.ErrInvalidInput
	}

	movements := make([]domain.StockMovement, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			return domain.StockInResponse{}, store.ErrInvalidInput
		}
		product, err := s.repo.GetProduct(ctx, site.ID, line.ProductID)
		if err != nil {
			return domain.StockInResponse{}, err
		}

		var expiry *time.Time
		if line.ExpiryDate != "" {
			day, err := time.Parse("2006-01-02", line.ExpiryDate)
			if err != nil {
				return domain.StockInResponse{}, store.ErrInvalidInput
			}
			d := day.UTC()
			expiry = &d
		}

		mv := domain.StockMovement{
			SiteID:            site.ID,
			ProductID:         product.ID,
			Type:              domain.MovementTypeIn,
			Quantity:          line.Quantity,
			MRPCents:          line.MRPCents,
			SaleRateCents:     line.SaleRateCents,
			PurchaseRateCents: line.PurchaseRateCents,
			ExpiryDate:        expiry,
			Remark:            line.Remark,
			CreatedBy:         actor.Username,
		}
		if mv.MRPCents == 0 {
			mv.MRPCents = product.MRPCents
		}
		if mv.SaleRateCents == 0 {
			mv.SaleRateCents = product.SaleRateCents
		}
		if mv.PurchaseRateCents == 0 {
			mv.PurchaseRateCents = product.PurchaseRateCents
		}
		movements = append(movements, mv)
	}

	batch := domain.StockBatch{
		SiteID:      site.ID,
		BatchNumber: req.BatchNumber,
		Location:    req.Location,
		CreatedBy:   actor.Username,
	}

	createdBatch, createdMovements, err := s.repo.CreateStockEntry(ctx, batch, movements)
	if err != nil {
		return domain.StockInResponse{}, err
	}

	s.logAudit(ctx, site.ID, "stock_in", "batch", createdBatch.ID,
		fmt.Sprintf("batch_number=%s,lines=%d,qty=%d", createdBatch.BatchNumber, len(createdMovements), createdBatch.RemainingQty))

	return domain.StockInResponse{Batch: *createdBatch, Movements: createdMovements}, nil
}

// AdjustStock records a signed correction. This is the one path that may
// drive a product counter negative; the discrepancy it reflects already
// happened on the shelf.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.StockAdjustResponse{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	if req.ProductID == "" || req.Quantity == 0 || req.Reason == "" {
		return domain.StockAdjustResponse{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProduct(ctx, site.ID, req.ProductID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	movement, newStock, err := s.repo.RecordAdjustment(ctx, domain.StockMovement{
		SiteID:    site.ID,
		ProductID: product.ID,
		Type:      domain.MovementTypeAdjustment,
		Quantity:  req.Quantity,
		Remark:    req.Reason,
		CreatedBy: actor.Username,
	})
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	s.logAudit(ctx, site.ID, "stock_adjust", "product", product.ID,
		fmt.Sprintf("qty=%d,new_stock=%d,reason=%s", req.Quantity, newStock, req.Reason))

	return domain.StockAdjustResponse{Movement: *movement, NewStock: newStock}, nil
}

func (s *Service) StockByProduct(ctx context.Context, siteSlug string, fromDate string, toDate string) ([]domain.ProductStockSummary, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}

	from, to, err := parseDateRange(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return s.repo.StockByProduct(ctx, site.ID, from, to)
}

// ExpiringBatches reports IN movements whose expiry falls within the window
// and whose batch still has remaining quantity. The cutoff is advisory: the
// ledger never blocks a sale on expiry, the report exists so staff can pull
// stock in time.
func (s *Service) ExpiringBatches(ctx context.Context, siteSlug string, days int) ([]domain.ExpiringBatch, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	if days < 1 || days > 365 {
		days = 30
	}
	before := time.Now().UTC().AddDate(0, 0, days)
	return s.repo.ExpiringBatches(ctx, site.ID, before)
}

// BatchOffers lists the batches a cashier may bill a product from, oldest
// expiry first with undated batches last. The ordering is advisory; the
// sale records whichever batch the cashier picked.
func (s *Service) BatchOffers(ctx context.Context, siteSlug string, productID string) ([]domain.BatchOffer, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.BatchOffers(ctx, site.ID, productID)
}

func (s *Service) GetBatch(ctx context.Context, siteSlug string, batchID string) (*domain.StockBatch, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBatch(ctx, site.ID, batchID)
}

func (s *Service) ListMovements(ctx context.Context, siteSlug string, productID string, limit int) ([]domain.StockMovement, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, site.ID, productID, limit)
}

func parseDateRange(fromDate string, toDate string) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromDate != "" {
		day, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			return from, to, store.ErrInvalidInput
		}
		from = day.UTC()
	}
	if toDate != "" {
		day, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return from, to, store.ErrInvalidInput
		}
		to = day.UTC().Add(24*time.Hour - time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, store.ErrInvalidInput
	}
	return from, to, nil
}
