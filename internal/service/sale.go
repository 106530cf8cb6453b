package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
	"farmakart/backend/internal/tax"
	"farmakart/backend/internal/xid"
)

// CreateSale is the billing entry point. It freezes a snapshot of each line
// (name, rates, per-component tax) under the site's current tax config,
// assigns the next bill number and decrements stock in one store
// transaction, then settles the loyalty side: reward discount redeemed
// against the claimed reward, points earned on the net amount. Resubmitting
// the same idempotency key returns the original bill untouched.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleCreateResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleCreateResponse{}, fmt.Errorf("authentication required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.SaleCreateResponse{}, store.ErrInvalidInput
	}
	if req.DiscountCents < 0 || req.PaidCents < 0 {
		return domain.SaleCreateResponse{}, store.ErrInvalidInput
	}

	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.CustomerName = strings.TrimSpace(req.CustomerName)

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, site.ID, req.IdempotencyKey)
		if err == nil {
			return domain.SaleCreateResponse{Sale: *existing, Duplicate: true, Points: existing.PointsAwarded}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleCreateResponse{}, err
		}
	}

	taxCfg, err := s.GetTaxConfig(ctx, site.ID)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}

	grossCents := int64(0)
	items := make([]domain.SaleItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity <= 0 || line.DiscountCents < 0 || line.RateCents < 0 {
			return domain.SaleCreateResponse{}, store.ErrInvalidInput
		}
		product, err := s.repo.GetProduct(ctx, site.ID, line.ProductID)
		if err != nil {
			return domain.SaleCreateResponse{}, err
		}

		rate := line.RateCents
		if rate == 0 {
			rate = product.SaleRateCents
		}
		breakdown := tax.CalculateLine(rate, line.Quantity, line.DiscountCents, taxCfg)

		items = append(items, domain.SaleItem{
			ProductID:     product.ID,
			ProductName:   product.Name,
			BatchID:       line.BatchID,
			Quantity:      line.Quantity,
			RateCents:     rate,
			MRPCents:      product.MRPCents,
			DiscountCents: line.DiscountCents,
			TaxBreakdown:  tax.NonZero(breakdown.Components),
			TaxCents:      breakdown.TaxCents,
			TotalCents:    breakdown.TotalCents,
		})
		grossCents += breakdown.TotalCents
	}

	if req.DiscountCents > grossCents {
		return domain.SaleCreateResponse{}, store.ErrInvalidInput
	}

	// The reward claim is verified up front so an unaffordable claim fails
	// before any stock moves; the points are actually spent only after the
	// bill commits.
	var claimedReward *domain.RoyaltyReward
	var claimAccount *domain.RoyaltyAccount
	rewardDiscountCents := int64(0)
	if req.ClaimedRewardID != "" {
		if req.CustomerPhone == "" {
			return domain.SaleCreateResponse{}, store.ErrInvalidInput
		}
		claimedReward, err = s.repo.GetReward(ctx, site.ID, req.ClaimedRewardID)
		if err != nil {
			return domain.SaleCreateResponse{}, err
		}
		if claimedReward.Status != domain.RewardStatusActive {
			return domain.SaleCreateResponse{}, store.ErrInvalidInput
		}
		claimAccount, err = s.repo.GetRoyaltyAccount(ctx, site.ID, req.CustomerPhone)
		if err != nil {
			return domain.SaleCreateResponse{}, err
		}
		if claimAccount.CurrentPoints < claimedReward.PointsRequired {
			return domain.SaleCreateResponse{}, store.ErrInsufficientPoints
		}
		if claimedReward.Kind == domain.RewardKindDiscount {
			rewardDiscountCents = rewardDiscount(*claimedReward, grossCents)
		}
	}

	netCents := grossCents - req.DiscountCents - rewardDiscountCents
	if netCents < 0 {
		netCents = 0
	}
	dueCents := netCents - req.PaidCents
	if dueCents < 0 {
		dueCents = 0
	}

	saleID := xid.New("sale")
	created, err := s.repo.CreateSale(ctx, domain.Sale{
		ID:                  saleID,
		SiteID:              site.ID,
		CustomerName:        req.CustomerName,
		CustomerPhone:       req.CustomerPhone,
		Items:               items,
		GrossCents:          grossCents,
		DiscountCents:       req.DiscountCents,
		RewardDiscountCents: rewardDiscountCents,
		NetCents:            netCents,
		PaidCents:           req.PaidCents,
		DueCents:            dueCents,
		PaymentStatus:       domain.PaymentStatusFor(netCents, req.PaidCents),
		ClaimedRewardID:     req.ClaimedRewardID,
		IdempotencyKey:      req.IdempotencyKey,
		CreatedBy:           actor.Username,
	})
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if created.ID != saleID {
		// Raced a concurrent submit of the same idempotency key.
		return domain.SaleCreateResponse{Sale: *created, Duplicate: true, Points: created.PointsAwarded}, nil
	}

	if claimedReward != nil {
		_, _, err := s.repo.ApplyRedemption(ctx, domain.Redemption{
			AccountID:            claimAccount.ID,
			SiteID:               site.ID,
			SaleID:               created.ID,
			RewardID:             claimedReward.ID,
			PointsSpent:          claimedReward.PointsRequired,
			DiscountAppliedCents: rewardDiscountCents,
			ProductID:            claimedReward.ProductID,
			ProductQty:           claimedReward.ProductQty,
		})
		if err != nil {
			log.Printf("[service] ERROR: redemption failed after sale %s committed: %v", created.ID, err)
			return domain.SaleCreateResponse{}, err
		}
	}

	points := s.earnPointsForSale(ctx, site.ID, created)
	created.PointsAwarded = points

	s.logAudit(ctx, site.ID, "sale_create", "sale", created.ID,
		fmt.Sprintf("bill_no=%d,net=%d,points=%d", created.BillNo, created.NetCents, points))

	return domain.SaleCreateResponse{Sale: *created, Points: points}, nil
}

// earnPointsForSale awards loyalty points after the bill has committed.
// Earn failures are logged, never propagated: the customer walked out with
// the goods either way.
func (s *Service) earnPointsForSale(ctx context.Context, siteID string, sale *domain.Sale) int64 {
	if sale.CustomerPhone == "" {
		return 0
	}
	settings, err := s.repo.GetRoyaltySettings(ctx, siteID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: failed to load royalty settings site=%s: %v", siteID, err)
		}
		return 0
	}
	if !settings.Enabled || sale.NetCents < settings.MinBillCents {
		return 0
	}

	points := earnedPoints(*settings, sale.NetCents)
	if points <= 0 {
		return 0
	}

	if _, _, err := s.repo.ApplyEarn(ctx, siteID, sale.CustomerPhone, sale.CustomerName, points, sale.ID); err != nil {
		log.Printf("[service] WARN: failed to award points sale=%s: %v", sale.ID, err)
		return 0
	}
	if err := s.repo.SetSalePoints(ctx, sale.ID, points); err != nil {
		log.Printf("[service] WARN: failed to record awarded points sale=%s: %v", sale.ID, err)
	}
	return points
}

// earnedPoints is floor(net in currency units x earn rate). Partial points
// are never awarded.
func earnedPoints(settings domain.RoyaltySettings, netCents int64) int64 {
	return int64(math.Floor(float64(netCents) / 100.0 * settings.EarnRatePerUnit))
}

// rewardDiscount is percent of the gross bill, clamped to the reward's cap
// when one is set.
func rewardDiscount(reward domain.RoyaltyReward, grossCents int64) int64 {
	discount := int64(math.Round(float64(grossCents) * reward.DiscountPercent / 100))
	if reward.DiscountCapCents > 0 && discount > reward.DiscountCapCents {
		discount = reward.DiscountCapCents
	}
	if discount > grossCents {
		discount = grossCents
	}
	return discount
}

// UpdateSale corrects header fields of an existing bill. The item snapshot
// and the stock movements behind it are immutable; corrections that touch
// quantities are a new sale plus an adjustment, not an edit.
func (s *Service) UpdateSale(ctx context.Context, siteSlug string, saleID string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.Sale{}, err
	}
	req.EditReason = strings.TrimSpace(req.EditReason)
	if req.EditReason == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if _, err := s.repo.GetSale(ctx, site.ID, saleID); err != nil {
		return domain.Sale{}, err
	}

	updated, err := s.repo.UpdateSale(ctx, saleID, req, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, site.ID, "sale_edit", "sale", saleID, fmt.Sprintf("bill_no=%d,reason=%s", updated.BillNo, req.EditReason))
	return *updated, nil
}

func (s *Service) GetSale(ctx context.Context, siteSlug string, saleID string) (domain.Sale, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, site.ID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) GetSaleByBillNo(ctx context.Context, siteSlug string, billNo int64) (domain.Sale, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSaleByBillNo(ctx, site.ID, billNo)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, siteSlug string, fromDate string, toDate string, limit int) ([]domain.Sale, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	from, to, err := parseDateRange(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, site.ID, from, to, limit)
}
