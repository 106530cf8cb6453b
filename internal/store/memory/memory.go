package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
	"farmakart/backend/internal/xid"
)

// Store is the in-memory implementation of store.Repository, used for dev
// mode and tests. All methods copy values out so callers never hold
// references into the maps.
type Store struct {
	mu              sync.RWMutex
	sites           map[string]domain.Site
	categories      map[string]domain.Category
	products        map[string]domain.Product
	batches         map[string]domain.StockBatch
	movements       []domain.StockMovement
	salesByID       map[string]domain.Sale
	saleIDByIdem    map[string]string
	billCounters    map[string]int64
	settingsBySite  map[string]domain.RoyaltySettings
	accountsByID    map[string]domain.RoyaltyAccount
	accountIDByKey  map[string]string
	pointsTxns      []domain.RoyaltyPointTransaction
	rewardsByID     map[string]domain.RoyaltyReward
	redemptionsByID map[string]domain.Redemption
	taxBySite       map[string]domain.TaxConfig
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		sites:           make(map[string]domain.Site),
		categories:      make(map[string]domain.Category),
		products:        make(map[string]domain.Product),
		batches:         make(map[string]domain.StockBatch),
		movements:       make([]domain.StockMovement, 0, 256),
		salesByID:       make(map[string]domain.Sale),
		saleIDByIdem:    make(map[string]string),
		billCounters:    make(map[string]int64),
		settingsBySite:  make(map[string]domain.RoyaltySettings),
		accountsByID:    make(map[string]domain.RoyaltyAccount),
		accountIDByKey:  make(map[string]string),
		rewardsByID:     make(map[string]domain.RoyaltyReward),
		redemptionsByID: make(map[string]domain.Redemption),
		taxBySite:       make(map[string]domain.TaxConfig),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers(tenantID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			TenantID:  tenantID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store pre-loaded with a demo tenant: two sites, a
// small pharmacy catalog with opening stock, and admin/cashier users. Seed
// stock goes in through CreateStockEntry so the movement ledger stays
// consistent with the counters.
func NewSeeded() *Store {
	const tenantID = "tenant-demo"
	s := New()
	s.usersByUsername = seedUsers(tenantID)

	now := time.Now().UTC()
	ctx := context.Background()

	main := domain.Site{ID: xid.New("site"), TenantID: tenantID, Slug: "main-pharmacy", Name: "Main Pharmacy", CreatedAt: now}
	annex := domain.Site{ID: xid.New("site"), TenantID: tenantID, Slug: "branch-annex", Name: "Branch Annex", CreatedAt: now}
	s.sites[main.ID] = main
	s.sites[annex.ID] = annex

	tablets := domain.Category{ID: xid.New("cat"), SiteID: main.ID, Name: "Tablets", Type: domain.CategoryTypeProduct, CreatedAt: now}
	syrups := domain.Category{ID: xid.New("cat"), SiteID: main.ID, Name: "Syrups", Type: domain.CategoryTypeProduct, CreatedAt: now}
	services := domain.Category{ID: xid.New("cat"), SiteID: main.ID, Name: "Consultation", Type: domain.CategoryTypeService, CreatedAt: now}
	annexTablets := domain.Category{ID: xid.New("cat"), SiteID: annex.ID, Name: "Tablets", Type: domain.CategoryTypeProduct, CreatedAt: now}
	for _, c := range []domain.Category{tablets, syrups, services, annexTablets} {
		s.categories[c.ID] = c
	}

	seed := []domain.Product{
		{ID: xid.New("prod"), SiteID: main.ID, CategoryID: tablets.ID, Name: "Paracetamol 500mg", ShortName: "PCM 500", Unit: "strip", MRPCents: 2500, SaleRateCents: 2200, PurchaseRateCents: 1600},
		{ID: xid.New("prod"), SiteID: main.ID, CategoryID: tablets.ID, Name: "Cetirizine 10mg", ShortName: "CTZ 10", Unit: "strip", MRPCents: 1800, SaleRateCents: 1500, PurchaseRateCents: 900},
		{ID: xid.New("prod"), SiteID: main.ID, CategoryID: syrups.ID, Name: "Cough Syrup 100ml", ShortName: "Cough 100", Unit: "bottle", MRPCents: 9500, SaleRateCents: 8800, PurchaseRateCents: 6200},
		{ID: xid.New("prod"), SiteID: annex.ID, CategoryID: annexTablets.ID, Name: "Paracetamol 500mg", ShortName: "PCM 500", Unit: "strip", MRPCents: 2500, SaleRateCents: 2200, PurchaseRateCents: 1600},
	}
	for _, p := range seed {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	for _, p := range seed {
		expiry := now.AddDate(1, 0, 0)
		batch := domain.StockBatch{
			SiteID:      p.SiteID,
			BatchNumber: "SEED-" + strings.ToUpper(p.ShortName[:3]),
			CreatedBy:   "admin",
		}
		mv := domain.StockMovement{
			SiteID:            p.SiteID,
			ProductID:         p.ID,
			Type:              domain.MovementTypeIn,
			Quantity:          60,
			MRPCents:          p.MRPCents,
			SaleRateCents:     p.SaleRateCents,
			PurchaseRateCents: p.PurchaseRateCents,
			ExpiryDate:        &expiry,
			Remark:            "opening stock",
			CreatedBy:         "admin",
		}
		if _, _, err := s.CreateStockEntry(ctx, batch, []domain.StockMovement{mv}); err != nil {
			log.Fatalf("[memory-store] failed to seed stock for %s: %v", p.Name, err)
		}
	}

	return s
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}

// ---- Sites and catalog ----

func (s *Store) CreateSite(_ context.Context, site domain.Site) (*domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if site.TenantID == "" || site.Slug == "" || site.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.sites {
		if existing.TenantID == site.TenantID && existing.Slug == site.Slug {
			return nil, store.ErrConflict
		}
	}
	if site.ID == "" {
		site.ID = xid.New("site")
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	s.sites[site.ID] = site
	created := site
	return &created, nil
}

func (s *Store) GetSiteBySlug(_ context.Context, tenantID string, slug string) (*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, site := range s.sites {
		if site.TenantID == tenantID && site.Slug == slug {
			copySite := site
			return &copySite, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSites(_ context.Context, tenantID string) ([]domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sites := make([]domain.Site, 0, len(s.sites))
	for _, site := range s.sites {
		if site.TenantID == tenantID {
			sites = append(sites, site)
		}
	}
	slices.SortFunc(sites, func(a, b domain.Site) int {
		return cmpString(a.Slug, b.Slug)
	})
	return sites, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.SiteID == "" || category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if category.Type != domain.CategoryTypeProduct && category.Type != domain.CategoryTypeService {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.categories {
		if existing.SiteID == category.SiteID && existing.Type == category.Type && strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrConflict
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context, siteID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0)
	for _, c := range s.categories {
		if c.SiteID == siteID {
			categories = append(categories, c)
		}
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		if a.Type == b.Type {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Type, b.Type)
	})
	return categories, nil
}

func (s *Store) GetCategoryByName(_ context.Context, siteID string, name string, categoryType string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if c.SiteID == siteID && c.Type == categoryType && strings.EqualFold(c.Name, name) {
			copyCat := c
			return &copyCat, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetCategory(_ context.Context, siteID string, categoryID string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.categories[categoryID]
	if !exists || c.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	copyCat := c
	return &copyCat, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createProductLocked(product)
}

func (s *Store) createProductLocked(product domain.Product) (*domain.Product, error) {
	if product.SiteID == "" || product.CategoryID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	cat, exists := s.categories[product.CategoryID]
	if !exists || cat.SiteID != product.SiteID {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.products {
		if existing.SiteID == product.SiteID && strings.EqualFold(existing.Name, product.Name) {
			return nil, store.ErrConflict
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, siteID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[productID]
	if !exists || p.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	copyProduct := p
	return &copyProduct, nil
}

func (s *Store) GetProductByName(_ context.Context, siteID string, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.SiteID == siteID && strings.EqualFold(p.Name, name) {
			copyProduct := p
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(_ context.Context, siteID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.SiteID == siteID {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

// ---- Stock ledger ----

func (s *Store) CreateStockEntry(_ context.Context, batch domain.StockBatch, movements []domain.StockMovement) (*domain.StockBatch, []domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(movements) == 0 || batch.SiteID == "" {
		return nil, nil, store.ErrInvalidInput
	}
	total := 0
	for _, mv := range movements {
		if mv.Quantity <= 0 || mv.Type != domain.MovementTypeIn || mv.SiteID != batch.SiteID {
			return nil, nil, store.ErrInvalidInput
		}
		p, exists := s.products[mv.ProductID]
		if !exists || p.SiteID != batch.SiteID {
			return nil, nil, store.ErrNotFound
		}
		total += mv.Quantity
	}

	now := time.Now().UTC()
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.BatchNumber == "" {
		batch.BatchNumber = batch.ID
	}
	batch.RemainingQty = total
	batch.CreatedAt = now
	s.batches[batch.ID] = batch

	written := make([]domain.StockMovement, 0, len(movements))
	for _, mv := range movements {
		if mv.ID == "" {
			mv.ID = xid.New("mv")
		}
		mv.BatchID = batch.ID
		mv.CreatedAt = now
		s.movements = append(s.movements, mv)
		written = append(written, mv)

		p := s.products[mv.ProductID]
		p.CurrentStock += mv.Quantity
		p.UpdatedAt = now
		s.products[mv.ProductID] = p
	}

	createdBatch := batch
	return &createdBatch, written, nil
}

func (s *Store) RecordAdjustment(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.Quantity == 0 || movement.Type != domain.MovementTypeAdjustment || movement.Remark == "" {
		return nil, 0, store.ErrInvalidInput
	}
	p, exists := s.products[movement.ProductID]
	if !exists || p.SiteID != movement.SiteID {
		return nil, 0, store.ErrNotFound
	}

	now := time.Now().UTC()
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	movement.CreatedAt = now
	s.movements = append(s.movements, movement)

	p.CurrentStock += movement.Quantity
	p.UpdatedAt = now
	s.products[movement.ProductID] = p

	created := movement
	return &created, p.CurrentStock, nil
}

func (s *Store) CommitTransfer(_ context.Context, lines []domain.TransferCommitLine) ([]domain.TransferLineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	// Validate everything before touching state so a late failure leaves no
	// partial transfer behind. Demand is summed per source product because
	// lines may repeat one product.
	needed := make(map[string]int)
	for _, line := range lines {
		src, exists := s.products[line.SourceProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		needed[line.SourceProductID] += line.Quantity
		if src.CurrentStock < needed[line.SourceProductID] {
			return nil, store.ErrInsufficientStock
		}
		if line.NewDestProduct == nil {
			dest, exists := s.products[line.DestProductID]
			if !exists || dest.ID == src.ID {
				return nil, store.ErrNotFound
			}
		}
	}

	now := time.Now().UTC()
	results := make([]domain.TransferLineResult, 0, len(lines))
	for _, line := range lines {
		src := s.products[line.SourceProductID]

		destID := line.DestProductID
		destCreated := false
		if line.NewDestProduct != nil {
			created, err := s.createProductLocked(*line.NewDestProduct)
			if err != nil {
				return nil, err
			}
			destID = created.ID
			destCreated = true
		}

		out := line.OutMovement
		if out.ID == "" {
			out.ID = xid.New("mv")
		}
		out.ProductID = src.ID
		out.CreatedAt = now
		s.movements = append(s.movements, out)

		in := line.InMovement
		if in.ID == "" {
			in.ID = xid.New("mv")
		}
		in.ProductID = destID
		in.CreatedAt = now
		s.movements = append(s.movements, in)

		src.CurrentStock -= line.Quantity
		src.UpdatedAt = now
		s.products[src.ID] = src

		dest := s.products[destID]
		dest.CurrentStock += line.Quantity
		dest.UpdatedAt = now
		s.products[destID] = dest

		results = append(results, domain.TransferLineResult{
			ProductID:     src.ID,
			ProductName:   src.Name,
			Quantity:      line.Quantity,
			SourceID:      out.SourceID,
			DestProductID: destID,
			DestCreated:   destCreated,
		})
	}
	return results, nil
}

func (s *Store) StockByProduct(_ context.Context, siteID string, from time.Time, to time.Time) ([]domain.ProductStockSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int)
	last := make(map[string]time.Time)
	for _, mv := range s.movements {
		if mv.SiteID != siteID {
			continue
		}
		if !from.IsZero() && mv.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && mv.CreatedAt.After(to) {
			continue
		}
		totals[mv.ProductID] += mv.Quantity
		if mv.CreatedAt.After(last[mv.ProductID]) {
			last[mv.ProductID] = mv.CreatedAt
		}
	}

	summaries := make([]domain.ProductStockSummary, 0, len(totals))
	for productID, qty := range totals {
		p, exists := s.products[productID]
		if !exists {
			continue
		}
		summaries = append(summaries, domain.ProductStockSummary{
			Product:       p,
			TotalQuantity: qty,
			LastUpdated:   last[productID],
		})
	}
	slices.SortFunc(summaries, func(a, b domain.ProductStockSummary) int {
		return cmpString(a.Product.Name, b.Product.Name)
	})
	return summaries, nil
}

func (s *Store) ExpiringBatches(_ context.Context, siteID string, before time.Time) ([]domain.ExpiringBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiring := make([]domain.ExpiringBatch, 0)
	for _, mv := range s.movements {
		if mv.SiteID != siteID || mv.Type != domain.MovementTypeIn && mv.Type != domain.MovementTypeTransfer {
			continue
		}
		if mv.Quantity <= 0 || mv.ExpiryDate == nil || mv.ExpiryDate.After(before) {
			continue
		}
		batch, exists := s.batches[mv.BatchID]
		if !exists || batch.RemainingQty <= 0 {
			continue
		}
		product, exists := s.products[mv.ProductID]
		if !exists {
			continue
		}
		expiring = append(expiring, domain.ExpiringBatch{Movement: mv, Batch: batch, Product: product})
	}
	slices.SortFunc(expiring, func(a, b domain.ExpiringBatch) int {
		if a.Movement.ExpiryDate.Equal(*b.Movement.ExpiryDate) {
			return cmpString(a.Product.Name, b.Product.Name)
		}
		if a.Movement.ExpiryDate.Before(*b.Movement.ExpiryDate) {
			return -1
		}
		return 1
	})
	return expiring, nil
}

func (s *Store) ListMovements(_ context.Context, siteID string, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for _, mv := range s.movements {
		if mv.SiteID != siteID {
			continue
		}
		if productID != "" && mv.ProductID != productID {
			continue
		}
		result = append(result, mv)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetBatch(_ context.Context, siteID string, batchID string) (*domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batches[batchID]
	if !exists || batch.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	copyBatch := batch
	return &copyBatch, nil
}

func (s *Store) BatchOffers(_ context.Context, siteID string, productID string) ([]domain.BatchOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// A batch's expiry for a product is the earliest expiry among its IN
	// movements for that product.
	expiries := make(map[string]*time.Time)
	seen := make(map[string]bool)
	for _, mv := range s.movements {
		if mv.SiteID != siteID || mv.ProductID != productID || mv.Quantity <= 0 || mv.BatchID == "" {
			continue
		}
		if !seen[mv.BatchID] {
			seen[mv.BatchID] = true
			expiries[mv.BatchID] = mv.ExpiryDate
			continue
		}
		if mv.ExpiryDate != nil {
			current := expiries[mv.BatchID]
			if current == nil || mv.ExpiryDate.Before(*current) {
				expiries[mv.BatchID] = mv.ExpiryDate
			}
		}
	}

	offers := make([]domain.BatchOffer, 0, len(seen))
	for batchID := range seen {
		batch, exists := s.batches[batchID]
		if !exists || batch.RemainingQty <= 0 {
			continue
		}
		offers = append(offers, domain.BatchOffer{Batch: batch, ExpiryDate: expiries[batchID]})
	}
	slices.SortFunc(offers, func(a, b domain.BatchOffer) int {
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return cmpString(a.Batch.BatchNumber, b.Batch.BatchNumber)
		case a.ExpiryDate == nil:
			return 1
		case b.ExpiryDate == nil:
			return -1
		case a.ExpiryDate.Before(*b.ExpiryDate):
			return -1
		case b.ExpiryDate.Before(*a.ExpiryDate):
			return 1
		}
		return cmpString(a.Batch.BatchNumber, b.Batch.BatchNumber)
	})
	return offers, nil
}

// ---- Sales ----

func idemKey(siteID, key string) string {
	return siteID + "|" + key
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.SiteID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.IdempotencyKey != "" {
		if existingID, ok := s.saleIDByIdem[idemKey(sale.SiteID, sale.IdempotencyKey)]; ok {
			existing := s.salesByID[existingID]
			return &existing, nil
		}
	}

	// Check every line before decrementing anything. Demand is summed per
	// product and per batch so a cart repeating one product cannot pass each
	// line against the same pre-decrement snapshot.
	neededStock := make(map[string]int)
	neededBatch := make(map[string]int)
	for _, item := range sale.Items {
		p, exists := s.products[item.ProductID]
		if !exists || p.SiteID != sale.SiteID {
			return nil, store.ErrNotFound
		}
		if item.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		neededStock[item.ProductID] += item.Quantity
		if p.CurrentStock < neededStock[item.ProductID] {
			return nil, store.ErrInsufficientStock
		}
		if item.BatchID != "" {
			batch, exists := s.batches[item.BatchID]
			if !exists || batch.SiteID != sale.SiteID {
				return nil, store.ErrNotFound
			}
			neededBatch[item.BatchID] += item.Quantity
			if batch.RemainingQty < neededBatch[item.BatchID] {
				return nil, store.ErrInsufficientStock
			}
		}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	s.billCounters[sale.SiteID]++
	sale.BillNo = s.billCounters[sale.SiteID]
	sale.CreatedAt = now

	for _, item := range sale.Items {
		p := s.products[item.ProductID]
		p.CurrentStock -= item.Quantity
		p.UpdatedAt = now
		s.products[item.ProductID] = p

		if item.BatchID != "" {
			batch := s.batches[item.BatchID]
			batch.RemainingQty -= item.Quantity
			s.batches[item.BatchID] = batch
		}

		s.movements = append(s.movements, domain.StockMovement{
			ID:            xid.New("mv"),
			SiteID:        sale.SiteID,
			ProductID:     item.ProductID,
			BatchID:       item.BatchID,
			Type:          domain.MovementTypeOut,
			Quantity:      -item.Quantity,
			MRPCents:      item.MRPCents,
			SaleRateCents: item.RateCents,
			SourceID:      sale.ID,
			Remark:        "sale",
			CreatedBy:     sale.CreatedBy,
			CreatedAt:     now,
		})
	}

	sale.Items = slices.Clone(sale.Items)
	s.salesByID[sale.ID] = sale
	if sale.IdempotencyKey != "" {
		s.saleIDByIdem[idemKey(sale.SiteID, sale.IdempotencyKey)] = sale.ID
	}
	created := sale
	created.Items = slices.Clone(sale.Items)
	return &created, nil
}

func (s *Store) UpdateSale(_ context.Context, saleID string, update domain.SaleUpdateRequest, editedAt time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if update.EditReason == "" {
		return nil, store.ErrInvalidInput
	}

	if update.CustomerName != nil {
		sale.CustomerName = *update.CustomerName
	}
	if update.CustomerPhone != nil {
		sale.CustomerPhone = *update.CustomerPhone
	}
	if update.DiscountCents != nil {
		if *update.DiscountCents < 0 {
			return nil, store.ErrInvalidInput
		}
		sale.DiscountCents = *update.DiscountCents
	}
	if update.PaidCents != nil {
		if *update.PaidCents < 0 {
			return nil, store.ErrInvalidInput
		}
		sale.PaidCents = *update.PaidCents
	}

	sale.NetCents = sale.GrossCents - sale.DiscountCents - sale.RewardDiscountCents
	if sale.NetCents < 0 {
		sale.NetCents = 0
	}
	sale.DueCents = sale.NetCents - sale.PaidCents
	if sale.DueCents < 0 {
		sale.DueCents = 0
	}
	sale.PaymentStatus = domain.PaymentStatusFor(sale.NetCents, sale.PaidCents)
	sale.IsEdited = true
	sale.EditReason = update.EditReason
	edited := editedAt
	sale.EditedAt = &edited

	sale.Items = slices.Clone(sale.Items)
	s.salesByID[saleID] = sale
	updated := sale
	updated.Items = slices.Clone(sale.Items)
	return &updated, nil
}

func (s *Store) GetSale(_ context.Context, siteID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	copySale := sale
	copySale.Items = slices.Clone(sale.Items)
	return &copySale, nil
}

func (s *Store) GetSaleByBillNo(_ context.Context, siteID string, billNo int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.salesByID {
		if sale.SiteID == siteID && sale.BillNo == billNo {
			copySale := sale
			copySale.Items = slices.Clone(sale.Items)
			return &copySale, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSales(_ context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0)
	for _, sale := range s.salesByID {
		if sale.SiteID != siteID {
			continue
		}
		if !from.IsZero() && sale.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && sale.CreatedAt.After(to) {
			continue
		}
		copySale := sale
		copySale.Items = slices.Clone(sale.Items)
		sales = append(sales, copySale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.BillNo == b.BillNo {
			return cmpString(b.ID, a.ID)
		}
		if a.BillNo > b.BillNo {
			return -1
		}
		return 1
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, siteID string, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saleID, ok := s.saleIDByIdem[idemKey(siteID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[saleID]
	copySale := sale
	copySale.Items = slices.Clone(sale.Items)
	return &copySale, nil
}

func (s *Store) SetSalePoints(_ context.Context, saleID string, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return store.ErrNotFound
	}
	sale.PointsAwarded = points
	s.salesByID[saleID] = sale
	return nil
}

// ---- Points ledger ----

func accountKey(siteID, phone string) string {
	return siteID + "|" + phone
}

func (s *Store) GetRoyaltySettings(_ context.Context, siteID string) (*domain.RoyaltySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, exists := s.settingsBySite[siteID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySettings := settings
	return &copySettings, nil
}

func (s *Store) UpsertRoyaltySettings(_ context.Context, settings domain.RoyaltySettings) (*domain.RoyaltySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.SiteID == "" || settings.EarnRatePerUnit < 0 || settings.MinBillCents < 0 {
		return nil, store.ErrInvalidInput
	}
	settings.UpdatedAt = time.Now().UTC()
	s.settingsBySite[settings.SiteID] = settings
	saved := settings
	return &saved, nil
}

func (s *Store) GetRoyaltyAccount(_ context.Context, siteID string, phone string) (*domain.RoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.accountIDByKey[accountKey(siteID, phone)]
	if !ok {
		return nil, store.ErrNotFound
	}
	account := s.accountsByID[accountID]
	copyAccount := account
	return &copyAccount, nil
}

func (s *Store) GetRoyaltyAccountByID(_ context.Context, siteID string, accountID string) (*domain.RoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accountsByID[accountID]
	if !exists || account.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	copyAccount := account
	return &copyAccount, nil
}

func (s *Store) ApplyEarn(_ context.Context, siteID string, phone string, customerName string, points int64, saleID string) (*domain.RoyaltyAccount, *domain.RoyaltyPointTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if siteID == "" || phone == "" || points <= 0 {
		return nil, nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	key := accountKey(siteID, phone)
	accountID, ok := s.accountIDByKey[key]
	var account domain.RoyaltyAccount
	if ok {
		account = s.accountsByID[accountID]
	} else {
		account = domain.RoyaltyAccount{
			ID:        xid.New("acct"),
			SiteID:    siteID,
			Phone:     phone,
			CreatedAt: now,
		}
		s.accountIDByKey[key] = account.ID
	}
	if customerName != "" {
		account.CustomerName = customerName
	}
	account.CurrentPoints += points
	account.TotalEarned += points
	account.UpdatedAt = now
	s.accountsByID[account.ID] = account

	txn := domain.RoyaltyPointTransaction{
		ID:        xid.New("ptxn"),
		AccountID: account.ID,
		SiteID:    siteID,
		SaleID:    saleID,
		Type:      domain.PointsTxEarned,
		Points:    points,
		CreatedAt: now,
	}
	s.pointsTxns = append(s.pointsTxns, txn)

	copyAccount := account
	copyTxn := txn
	return &copyAccount, &copyTxn, nil
}

func (s *Store) ApplyRedemption(_ context.Context, redemption domain.Redemption) (*domain.Redemption, *domain.RoyaltyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if redemption.AccountID == "" || redemption.RewardID == "" || redemption.PointsSpent <= 0 {
		return nil, nil, store.ErrInvalidInput
	}
	account, exists := s.accountsByID[redemption.AccountID]
	if !exists || account.SiteID != redemption.SiteID {
		return nil, nil, store.ErrNotFound
	}
	if account.CurrentPoints < redemption.PointsSpent {
		return nil, nil, store.ErrInsufficientPoints
	}

	now := time.Now().UTC()
	if redemption.ID == "" {
		redemption.ID = xid.New("rdm")
	}
	redemption.CreatedAt = now

	account.CurrentPoints -= redemption.PointsSpent
	account.TotalRedeemed += redemption.PointsSpent
	account.UpdatedAt = now
	s.accountsByID[account.ID] = account

	s.pointsTxns = append(s.pointsTxns, domain.RoyaltyPointTransaction{
		ID:        xid.New("ptxn"),
		AccountID: account.ID,
		SiteID:    redemption.SiteID,
		SaleID:    redemption.SaleID,
		RewardID:  redemption.RewardID,
		Type:      domain.PointsTxRedeemed,
		Points:    -redemption.PointsSpent,
		CreatedAt: now,
	})
	s.redemptionsByID[redemption.ID] = redemption

	copyRedemption := redemption
	copyAccount := account
	return &copyRedemption, &copyAccount, nil
}

func (s *Store) CreateReward(_ context.Context, reward domain.RoyaltyReward) (*domain.RoyaltyReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reward.SiteID == "" || reward.Name == "" || reward.PointsRequired <= 0 {
		return nil, store.ErrInvalidInput
	}
	switch reward.Kind {
	case domain.RewardKindDiscount:
		if reward.DiscountPercent <= 0 || reward.DiscountPercent > 100 {
			return nil, store.ErrInvalidInput
		}
	case domain.RewardKindProduct:
		if reward.ProductID == "" || reward.ProductQty <= 0 {
			return nil, store.ErrInvalidInput
		}
		p, exists := s.products[reward.ProductID]
		if !exists || p.SiteID != reward.SiteID {
			return nil, store.ErrNotFound
		}
	default:
		return nil, store.ErrInvalidInput
	}

	if reward.ID == "" {
		reward.ID = xid.New("rwd")
	}
	if reward.Status == "" {
		reward.Status = domain.RewardStatusActive
	}
	reward.CreatedAt = time.Now().UTC()
	s.rewardsByID[reward.ID] = reward
	created := reward
	return &created, nil
}

func (s *Store) GetReward(_ context.Context, siteID string, rewardID string) (*domain.RoyaltyReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reward, exists := s.rewardsByID[rewardID]
	if !exists || reward.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	copyReward := reward
	return &copyReward, nil
}

func (s *Store) ListRewards(_ context.Context, siteID string) ([]domain.RoyaltyReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rewards := make([]domain.RoyaltyReward, 0)
	for _, reward := range s.rewardsByID {
		if reward.SiteID == siteID {
			rewards = append(rewards, reward)
		}
	}
	slices.SortFunc(rewards, func(a, b domain.RoyaltyReward) int {
		if a.PointsRequired == b.PointsRequired {
			return cmpString(a.Name, b.Name)
		}
		if a.PointsRequired < b.PointsRequired {
			return -1
		}
		return 1
	})
	return rewards, nil
}

func (s *Store) SetRewardStatus(_ context.Context, siteID string, rewardID string, status string) (*domain.RoyaltyReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status != domain.RewardStatusActive && status != domain.RewardStatusInactive {
		return nil, store.ErrInvalidInput
	}
	reward, exists := s.rewardsByID[rewardID]
	if !exists || reward.SiteID != siteID {
		return nil, store.ErrNotFound
	}
	reward.Status = status
	s.rewardsByID[rewardID] = reward
	updated := reward
	return &updated, nil
}

func (s *Store) ListPointTransactions(_ context.Context, accountID string, limit int) ([]domain.RoyaltyPointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := make([]domain.RoyaltyPointTransaction, 0)
	for _, txn := range s.pointsTxns {
		if txn.AccountID == accountID {
			txns = append(txns, txn)
		}
	}
	slices.SortFunc(txns, func(a, b domain.RoyaltyPointTransaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

// ---- Tax config ----

func (s *Store) GetOrCreateTaxConfig(_ context.Context, siteID string, defaults domain.TaxConfig) (*domain.TaxConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, exists := s.taxBySite[siteID]; exists {
		copyCfg := cfg
		copyCfg.Components = slices.Clone(cfg.Components)
		return &copyCfg, nil
	}
	defaults.SiteID = siteID
	defaults.UpdatedAt = time.Now().UTC()
	defaults.Components = slices.Clone(defaults.Components)
	s.taxBySite[siteID] = defaults
	created := defaults
	created.Components = slices.Clone(defaults.Components)
	return &created, nil
}

func (s *Store) UpdateTaxConfig(_ context.Context, config domain.TaxConfig) (*domain.TaxConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if config.SiteID == "" {
		return nil, store.ErrInvalidInput
	}
	for _, c := range config.Components {
		if c.Name == "" || c.RatePercent < 0 {
			return nil, store.ErrInvalidInput
		}
	}
	config.UpdatedAt = time.Now().UTC()
	config.Components = slices.Clone(config.Components)
	s.taxBySite[config.SiteID] = config
	saved := config
	saved.Components = slices.Clone(config.Components)
	return &saved, nil
}

// ---- Audit trail ----

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0)
	for _, entry := range s.auditLogs {
		if siteID != "" && entry.SiteID != siteID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// ---- Auth accounts ----

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	if password == "" {
		return store.ErrInvalidInput
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
