package store

import (
	"context"
	"errors"
	"time"

	"farmakart/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("already exists")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Repository is the persistence boundary of the core. Derived aggregates
// (Product.CurrentStock, StockBatch.RemainingQty, RoyaltyAccount balances)
// are mutated only by the ledger operations below; no other writer may touch
// them. Every multi-row mutation is a single database transaction.
type Repository interface {
	// Sites and catalog.
	CreateSite(ctx context.Context, site domain.Site) (*domain.Site, error)
	GetSiteBySlug(ctx context.Context, tenantID string, slug string) (*domain.Site, error)
	ListSites(ctx context.Context, tenantID string) ([]domain.Site, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context, siteID string) ([]domain.Category, error)
	GetCategoryByName(ctx context.Context, siteID string, name string, categoryType string) (*domain.Category, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, siteID string, productID string) (*domain.Product, error)
	GetProductByName(ctx context.Context, siteID string, name string) (*domain.Product, error)
	GetCategory(ctx context.Context, siteID string, categoryID string) (*domain.Category, error)
	ListProducts(ctx context.Context, siteID string) ([]domain.Product, error)

	// Stock ledger. CreateStockEntry writes the batch, its IN movements and
	// the per-product counter increments in one transaction. RecordAdjustment
	// is the only operation allowed to drive a counter negative.
	CreateStockEntry(ctx context.Context, batch domain.StockBatch, movements []domain.StockMovement) (*domain.StockBatch, []domain.StockMovement, error)
	RecordAdjustment(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, int, error)
	CommitTransfer(ctx context.Context, lines []domain.TransferCommitLine) ([]domain.TransferLineResult, error)
	StockByProduct(ctx context.Context, siteID string, from time.Time, to time.Time) ([]domain.ProductStockSummary, error)
	ExpiringBatches(ctx context.Context, siteID string, before time.Time) ([]domain.ExpiringBatch, error)
	ListMovements(ctx context.Context, siteID string, productID string, limit int) ([]domain.StockMovement, error)
	GetBatch(ctx context.Context, siteID string, batchID string) (*domain.StockBatch, error)
	// BatchOffers lists the batches holding a product, ordered oldest expiry
	// first with undated batches last; emptied batches are omitted.
	BatchOffers(ctx context.Context, siteID string, productID string) ([]domain.BatchOffer, error)

	// Sales. CreateSale assigns the bill number, checks and decrements stock
	// (and batch remaining quantity when a line names a batch) and inserts the
	// sale with its frozen line snapshots, all in one transaction.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	UpdateSale(ctx context.Context, saleID string, update domain.SaleUpdateRequest, editedAt time.Time) (*domain.Sale, error)
	GetSale(ctx context.Context, siteID string, saleID string) (*domain.Sale, error)
	GetSaleByBillNo(ctx context.Context, siteID string, billNo int64) (*domain.Sale, error)
	ListSales(ctx context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, siteID string, key string) (*domain.Sale, error)
	SetSalePoints(ctx context.Context, saleID string, points int64) error

	// Points ledger. ApplyEarn and ApplyRedemption keep the account balance
	// and the lifetime counters consistent with the transaction log by
	// applying both sides in one transaction. ApplyRedemption verifies
	// sufficiency before decrementing and fails with ErrInsufficientPoints.
	GetRoyaltySettings(ctx context.Context, siteID string) (*domain.RoyaltySettings, error)
	UpsertRoyaltySettings(ctx context.Context, settings domain.RoyaltySettings) (*domain.RoyaltySettings, error)
	GetRoyaltyAccount(ctx context.Context, siteID string, phone string) (*domain.RoyaltyAccount, error)
	GetRoyaltyAccountByID(ctx context.Context, siteID string, accountID string) (*domain.RoyaltyAccount, error)
	ApplyEarn(ctx context.Context, siteID string, phone string, customerName string, points int64, saleID string) (*domain.RoyaltyAccount, *domain.RoyaltyPointTransaction, error)
	ApplyRedemption(ctx context.Context, redemption domain.Redemption) (*domain.Redemption, *domain.RoyaltyAccount, error)
	CreateReward(ctx context.Context, reward domain.RoyaltyReward) (*domain.RoyaltyReward, error)
	GetReward(ctx context.Context, siteID string, rewardID string) (*domain.RoyaltyReward, error)
	ListRewards(ctx context.Context, siteID string) ([]domain.RoyaltyReward, error)
	SetRewardStatus(ctx context.Context, siteID string, rewardID string, status string) (*domain.RoyaltyReward, error)
	ListPointTransactions(ctx context.Context, accountID string, limit int) ([]domain.RoyaltyPointTransaction, error)

	// Tax config, auto-created with defaults on first access.
	GetOrCreateTaxConfig(ctx context.Context, siteID string, defaults domain.TaxConfig) (*domain.TaxConfig, error)
	UpdateTaxConfig(ctx context.Context, config domain.TaxConfig) (*domain.TaxConfig, error)

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Auth accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
