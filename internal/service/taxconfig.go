package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
)

const defaultTaxCacheTTL = 5 * time.Minute

// defaultTaxConfig is what a site gets on first access: a single-component
// VAT regime, enabled. Jurisdictions with split components replace it
// through UpdateTaxConfig.
func defaultTaxConfig() domain.TaxConfig {
	return domain.TaxConfig{
		Enabled:    true,
		Components: []domain.TaxComponent{{Name: "VAT", RatePercent: 13}},
	}
}

// GetTaxConfig reads through the cache. The config is consulted on every
// sale line, so a miss falls back to the store and repopulates.
func (s *Service) GetTaxConfig(ctx context.Context, siteID string) (domain.TaxConfig, error) {
	if cached, hit, err := s.taxCache.Get(ctx, siteID); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: tax config cache read failed site=%s: %v", siteID, err)
	}

	cfg, err := s.repo.GetOrCreateTaxConfig(ctx, siteID, defaultTaxConfig())
	if err != nil {
		return domain.TaxConfig{}, err
	}

	if err := s.taxCache.Set(ctx, siteID, cfg, s.taxCacheTTL); err != nil {
		log.Printf("[service] WARN: tax config cache write failed site=%s: %v", siteID, err)
	}
	return *cfg, nil
}

func (s *Service) GetTaxConfigBySlug(ctx context.Context, siteSlug string) (domain.TaxConfig, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.TaxConfig{}, err
	}
	return s.GetTaxConfig(ctx, site.ID)
}

// UpdateTaxConfig replaces fields present in the request and invalidates
// the cache before returning, so the next sale bills under the new rates.
// Historical bills keep their frozen snapshots regardless.
func (s *Service) UpdateTaxConfig(ctx context.Context, req domain.TaxConfigUpdateRequest) (domain.TaxConfig, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.TaxConfig{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.TaxConfig{}, err
	}

	cfg, err := s.repo.GetOrCreateTaxConfig(ctx, site.ID, defaultTaxConfig())
	if err != nil {
		return domain.TaxConfig{}, err
	}

	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.Components != nil {
		for _, c := range req.Components {
			if strings.TrimSpace(c.Name) == "" || c.RatePercent < 0 || c.RatePercent > 100 {
				return domain.TaxConfig{}, store.ErrInvalidInput
			}
		}
		cfg.Components = req.Components
	}
	if req.RegistrationNo != nil {
		cfg.RegistrationNo = strings.TrimSpace(*req.RegistrationNo)
	}
	if req.SecondaryRegNo != nil {
		cfg.SecondaryRegNo = strings.TrimSpace(*req.SecondaryRegNo)
	}

	saved, err := s.repo.UpdateTaxConfig(ctx, *cfg)
	if err != nil {
		return domain.TaxConfig{}, err
	}

	if err := s.taxCache.Delete(ctx, site.ID); err != nil {
		log.Printf("[service] WARN: tax config cache invalidation failed site=%s: %v", site.ID, err)
	}

	s.logAudit(ctx, site.ID, "tax_config_update", "tax_config", site.ID,
		fmt.Sprintf("enabled=%t,components=%d", saved.Enabled, len(saved.Components)))
	return *saved, nil
}
