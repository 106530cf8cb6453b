package service

import (
	"context"
	"fmt"
	"strings"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
)

func (s *Service) GetRoyaltySettings(ctx context.Context, siteSlug string) (domain.RoyaltySettings, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.RoyaltySettings{}, err
	}
	settings, err := s.repo.GetRoyaltySettings(ctx, site.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return domain.RoyaltySettings{SiteID: site.ID}, nil
		}
		return domain.RoyaltySettings{}, err
	}
	return *settings, nil
}

func (s *Service) UpdateRoyaltySettings(ctx context.Context, settings domain.RoyaltySettings, siteSlug string) (domain.RoyaltySettings, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.RoyaltySettings{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.RoyaltySettings{}, err
	}
	settings.SiteID = site.ID

	saved, err := s.repo.UpsertRoyaltySettings(ctx, settings)
	if err != nil {
		return domain.RoyaltySettings{}, err
	}

	s.logAudit(ctx, site.ID, "royalty_settings_update", "royalty_settings", site.ID,
		fmt.Sprintf("enabled=%t,earn_rate=%g,min_bill=%d", saved.Enabled, saved.EarnRatePerUnit, saved.MinBillCents))
	return *saved, nil
}

func (s *Service) GetRoyaltyAccount(ctx context.Context, siteSlug string, phone string) (domain.RoyaltyAccount, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.RoyaltyAccount{}, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.RoyaltyAccount{}, store.ErrInvalidInput
	}
	account, err := s.repo.GetRoyaltyAccount(ctx, site.ID, phone)
	if err != nil {
		return domain.RoyaltyAccount{}, err
	}
	return *account, nil
}

func (s *Service) ListPointTransactions(ctx context.Context, siteSlug string, accountID string, limit int) ([]domain.RoyaltyPointTransaction, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	// Verify the account is addressable within the caller's site before
	// exposing its history.
	if _, err := s.repo.GetRoyaltyAccountByID(ctx, site.ID, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListPointTransactions(ctx, accountID, limit)
}

func (s *Service) CreateReward(ctx context.Context, req domain.RewardCreateRequest) (domain.RoyaltyReward, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.RoyaltyReward{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.RoyaltyReward{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Kind = strings.ToUpper(strings.TrimSpace(req.Kind))
	if req.Name == "" || req.PointsRequired <= 0 {
		return domain.RoyaltyReward{}, store.ErrInvalidInput
	}
	switch req.Kind {
	case domain.RewardKindDiscount:
		if req.DiscountPercent <= 0 || req.DiscountPercent > 100 || req.DiscountCapCents < 0 {
			return domain.RoyaltyReward{}, store.ErrInvalidInput
		}
	case domain.RewardKindProduct:
		if req.ProductID == "" || req.ProductQty <= 0 {
			return domain.RoyaltyReward{}, store.ErrInvalidInput
		}
		if _, err := s.repo.GetProduct(ctx, site.ID, req.ProductID); err != nil {
			return domain.RoyaltyReward{}, err
		}
	default:
		return domain.RoyaltyReward{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateReward(ctx, domain.RoyaltyReward{
		SiteID:           site.ID,
		Name:             req.Name,
		Kind:             req.Kind,
		PointsRequired:   req.PointsRequired,
		DiscountPercent:  req.DiscountPercent,
		DiscountCapCents: req.DiscountCapCents,
		ProductID:        req.ProductID,
		ProductQty:       req.ProductQty,
		Status:           domain.RewardStatusActive,
	})
	if err != nil {
		return domain.RoyaltyReward{}, err
	}

	s.logAudit(ctx, site.ID, "reward_create", "reward", created.ID,
		fmt.Sprintf("name=%s,kind=%s,points=%d", created.Name, created.Kind, created.PointsRequired))
	return *created, nil
}

func (s *Service) ListRewards(ctx context.Context, siteSlug string) ([]domain.RoyaltyReward, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRewards(ctx, site.ID)
}

// EligibleRewards filters the active rewards down to those the account can
// afford right now.
func (s *Service) EligibleRewards(ctx context.Context, siteSlug string, accountID string) ([]domain.RoyaltyReward, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.GetRoyaltyAccountByID(ctx, site.ID, accountID)
	if err != nil {
		return nil, err
	}
	rewards, err := s.repo.ListRewards(ctx, site.ID)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.RoyaltyReward, 0, len(rewards))
	for _, reward := range rewards {
		if reward.Status != domain.RewardStatusActive {
			continue
		}
		if reward.PointsRequired > account.CurrentPoints {
			continue
		}
		eligible = append(eligible, reward)
	}
	return eligible, nil
}

func (s *Service) SetRewardStatus(ctx context.Context, siteSlug string, rewardID string, status string) (domain.RoyaltyReward, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.RoyaltyReward{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.RoyaltyReward{}, err
	}
	status = strings.ToUpper(strings.TrimSpace(status))

	updated, err := s.repo.SetRewardStatus(ctx, site.ID, rewardID, status)
	if err != nil {
		return domain.RoyaltyReward{}, err
	}

	s.logAudit(ctx, site.ID, "reward_status", "reward", rewardID, "status="+status)
	return *updated, nil
}

// RedeemReward spends points on a reward outside of a sale (or bound to an
// existing bill via SaleID). Sufficiency is re-verified atomically by the
// store; two concurrent redemptions can never drive the balance negative.
func (s *Service) RedeemReward(ctx context.Context, req domain.RedeemRequest) (domain.RedeemResponse, error) {
	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.RedeemResponse{}, err
	}
	if req.AccountID == "" || req.RewardID == "" {
		return domain.RedeemResponse{}, store.ErrInvalidInput
	}

	reward, err := s.repo.GetReward(ctx, site.ID, req.RewardID)
	if err != nil {
		return domain.RedeemResponse{}, err
	}
	if reward.Status != domain.RewardStatusActive {
		return domain.RedeemResponse{}, store.ErrInvalidInput
	}

	discountApplied := int64(0)
	if req.SaleID != "" {
		sale, err := s.repo.GetSale(ctx, site.ID, req.SaleID)
		if err != nil {
			return domain.RedeemResponse{}, err
		}
		if reward.Kind == domain.RewardKindDiscount {
			discountApplied = rewardDiscount(*reward, sale.GrossCents)
		}
	}

	redemption, account, err := s.repo.ApplyRedemption(ctx, domain.Redemption{
		AccountID:            req.AccountID,
		SiteID:               site.ID,
		SaleID:               req.SaleID,
		RewardID:             reward.ID,
		PointsSpent:          reward.PointsRequired,
		DiscountAppliedCents: discountApplied,
		ProductID:            reward.ProductID,
		ProductQty:           reward.ProductQty,
	})
	if err != nil {
		return domain.RedeemResponse{}, err
	}

	s.logAudit(ctx, site.ID, "reward_redeem", "reward", reward.ID,
		fmt.Sprintf("account=%s,points=%d,discount=%d", account.ID, redemption.PointsSpent, redemption.DiscountAppliedCents))

	return domain.RedeemResponse{Redemption: *redemption, Account: *account}, nil
}
