package cache

import (
	"context"
	"time"

	"farmakart/backend/internal/domain"
)

// TaxConfigCache fronts the per-site tax configuration, which is read on
// every sale but changes rarely. Delete must be called on every config
// write so stale rates never reach a bill.
type TaxConfigCache interface {
	Get(ctx context.Context, siteID string) (*domain.TaxConfig, bool, error)
	Set(ctx context.Context, siteID string, value *domain.TaxConfig, ttl time.Duration) error
	Delete(ctx context.Context, siteID string) error
}

type NoopTaxConfigCache struct{}

func (NoopTaxConfigCache) Get(_ context.Context, _ string) (*domain.TaxConfig, bool, error) {
	return nil, false, nil
}

func (NoopTaxConfigCache) Set(_ context.Context, _ string, _ *domain.TaxConfig, _ time.Duration) error {
	return nil
}

func (NoopTaxConfigCache) Delete(_ context.Context, _ string) error {
	return nil
}
