package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"farmakart/backend/internal/cache"
	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
	"farmakart/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopTaxConfigCache{}, time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
		TenantID: "tenant-demo",
	})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     "cashier",
		TenantID: "tenant-demo",
	})
}

func findProduct(t *testing.T, svc *Service, ctx context.Context, siteSlug string, name string) domain.Product {
	t.Helper()
	products, err := svc.ListProducts(ctx, siteSlug)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("product %q not found at %s", name, siteSlug)
	return domain.Product{}
}

func TestCreateProductAdminSuccess(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	categories, err := svc.ListCategories(ctx, "main-pharmacy")
	if err != nil {
		t.Fatalf("list categories failed: %v", err)
	}
	var tablets domain.Category
	for _, c := range categories {
		if c.Name == "Tablets" {
			tablets = c
			break
		}
	}
	if tablets.ID == "" {
		t.Fatalf("expected seeded Tablets category")
	}

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Site:              "main-pharmacy",
		CategoryID:        tablets.ID,
		Name:              "Amoxicillin 250mg",
		ShortName:         "AMX 250",
		Unit:              "strip",
		MRPCents:          4500,
		SaleRateCents:     4200,
		PurchaseRateCents: 3000,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.CurrentStock != 0 {
		t.Fatalf("expected new product with zero stock, got %d", product.CurrentStock)
	}

	listed := findProduct(t, svc, ctx, "main-pharmacy", "Amoxicillin 250mg")
	if listed.ID != product.ID {
		t.Fatalf("expected created product to be listed")
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Site:          "main-pharmacy",
		Name:          "Ibuprofen 400mg",
		Unit:          "strip",
		SaleRateCents: 3000,
	})
	if err == nil {
		t.Fatalf("expected non-admin create product to fail")
	}
}

func TestCreateSiteNormalizesSlug(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	site, err := svc.CreateSite(ctx, domain.SiteCreateRequest{Slug: "West-Wing", Name: "West Wing"})
	if err != nil {
		t.Fatalf("create site failed: %v", err)
	}
	if site.Slug != "west-wing" {
		t.Fatalf("expected lowercased slug, got %q", site.Slug)
	}
	if site.TenantID != "tenant-demo" {
		t.Fatalf("expected site bound to caller tenant, got %q", site.TenantID)
	}

	if _, err := svc.ListProducts(ctx, "west-wing"); err != nil {
		t.Fatalf("expected new site to resolve: %v", err)
	}
}

func TestCrossTenantSlugResolvesAsNotFound(t *testing.T) {
	svc := newTestService()
	foreign := WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
		TenantID: "tenant-other",
	})

	_, err := svc.ListProducts(foreign, "main-pharmacy")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected foreign tenant lookup to behave as not found, got %v", err)
	}
}

func TestListSitesScopedToTenant(t *testing.T) {
	svc := newTestService()

	sites, err := svc.ListSites(adminCtx())
	if err != nil {
		t.Fatalf("list sites failed: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("expected 2 seeded sites, got %d", len(sites))
	}

	foreign := WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
		TenantID: "tenant-other",
	})
	foreignSites, err := svc.ListSites(foreign)
	if err != nil {
		t.Fatalf("list sites for foreign tenant failed: %v", err)
	}
	if len(foreignSites) != 0 {
		t.Fatalf("expected no sites for foreign tenant, got %d", len(foreignSites))
	}
}
