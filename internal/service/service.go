package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"farmakart/backend/internal/cache"
	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
	"farmakart/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	taxCache    cache.TaxConfigCache
	taxCacheTTL time.Duration
}

func New(repo store.Repository, taxCache cache.TaxConfigCache, taxCacheTTL time.Duration) *Service {
	if taxCache == nil {
		taxCache = cache.NoopTaxConfigCache{}
	}
	if taxCacheTTL <= 0 {
		taxCacheTTL = defaultTaxCacheTTL
	}

	return &Service{
		repo:        repo,
		taxCache:    taxCache,
		taxCacheTTL: taxCacheTTL,
	}
}

// resolveSite maps a public slug to the caller's own site. A slug owned by
// another tenant resolves exactly like a slug that does not exist, so the
// API never leaks which sites other tenants have.
func (s *Service) resolveSite(ctx context.Context, slug string) (*domain.Site, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetSiteBySlug(ctx, actor.TenantID, slug)
}

func (s *Service) CreateSite(ctx context.Context, req domain.SiteCreateRequest) (domain.Site, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Site{}, fmt.Errorf("admin role required")
	}

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.Name = strings.TrimSpace(req.Name)
	if req.Slug == "" || req.Name == "" {
		return domain.Site{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateSite(ctx, domain.Site{
		TenantID: actor.TenantID,
		Slug:     req.Slug,
		Name:     req.Name,
	})
	if err != nil {
		return domain.Site{}, err
	}

	s.logAudit(ctx, created.ID, "site_create", "site", created.ID, fmt.Sprintf("slug=%s,name=%s", created.Slug, created.Name))
	return *created, nil
}

func (s *Service) ListSites(ctx context.Context) ([]domain.Site, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListSites(ctx, actor.TenantID)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Category{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.Category{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.Name == "" {
		return domain.Category{}, store.ErrInvalidInput
	}
	if req.Type != domain.CategoryTypeProduct && req.Type != domain.CategoryTypeService {
		return domain.Category{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		SiteID: site.ID,
		Name:   req.Name,
		Type:   req.Type,
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logAudit(ctx, site.ID, "category_create", "category", created.ID, fmt.Sprintf("name=%s,type=%s", created.Name, created.Type))
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context, siteSlug string) ([]domain.Category, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, site.ID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, req.Site)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.ShortName = strings.TrimSpace(req.ShortName)
	if req.Name == "" || req.CategoryID == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.MRPCents < 0 || req.SaleRateCents < 0 || req.PurchaseRateCents < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if _, err := s.repo.GetCategory(ctx, site.ID, req.CategoryID); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SiteID:            site.ID,
		CategoryID:        req.CategoryID,
		Name:              req.Name,
		ShortName:         req.ShortName,
		Unit:              strings.TrimSpace(req.Unit),
		MRPCents:          req.MRPCents,
		SaleRateCents:     req.SaleRateCents,
		PurchaseRateCents: req.PurchaseRateCents,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, site.ID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,sale_rate=%d", created.Name, created.SaleRateCents))
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context, siteSlug string) ([]domain.Product, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, site.ID)
}

func (s *Service) GetProduct(ctx context.Context, siteSlug string, productID string) (domain.Product, error) {
	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, site.ID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, siteSlug string, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	site, err := s.resolveSite(ctx, siteSlug)
	if err != nil {
		return nil, err
	}

	var from, to time.Time
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = day.UTC()
		to = from.Add(24*time.Hour - time.Nanosecond)
	}
	return s.repo.ListAuditLogs(ctx, site.ID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, siteID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		SiteID:        siteID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
