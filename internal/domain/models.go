package domain

import "time"

// Actor identifies the authenticated caller. It is resolved once by the HTTP
// layer and threaded through every service call via context; the core never
// reads tenant or user identity from ambient state.
type Actor struct {
	Username string
	Role     string
	TenantID string
}

type Site struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type SiteCreateRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

const (
	CategoryTypeProduct = "PRODUCT"
	CategoryTypeService = "SERVICE"
)

type Category struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Site string `json:"site"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Product belongs to exactly one site. CurrentStock is a derived aggregate:
// it is only ever written by the stock ledger operations, as the signed sum
// of the product's movements.
type Product struct {
	ID                string    `json:"id"`
	SiteID            string    `json:"site_id"`
	CategoryID        string    `json:"category_id"`
	Name              string    `json:"name"`
	ShortName         string    `json:"short_name"`
	Unit              string    `json:"unit"`
	MRPCents          int64     `json:"mrp_cents"`
	SaleRateCents     int64     `json:"sale_rate_cents"`
	PurchaseRateCents int64     `json:"purchase_rate_cents"`
	CurrentStock      int       `json:"current_stock"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Site              string `json:"site"`
	CategoryID        string `json:"category_id"`
	Name              string `json:"name"`
	ShortName         string `json:"short_name"`
	Unit              string `json:"unit"`
	MRPCents          int64  `json:"mrp_cents"`
	SaleRateCents     int64  `json:"sale_rate_cents"`
	PurchaseRateCents int64  `json:"purchase_rate_cents"`
}

// Stock movement type tags. TRANSFER is used on both sides of a paired
// cross-site move; the pair shares a SourceID correlation id.
const (
	MovementTypeIn         = "IN"
	MovementTypeOut        = "OUT"
	MovementTypeTransfer   = "TRANSFER"
	MovementTypeAdjustment = "ADJUSTMENT"
)

// StockMovement is append-only: once written it is never mutated or deleted.
// Quantity is signed (positive inbound, negative outbound). Price fields are
// a snapshot taken at movement time, never looked up retroactively.
type StockMovement struct {
	ID                string     `json:"id"`
	SiteID            string     `json:"site_id"`
	ProductID         string     `json:"product_id"`
	BatchID           string     `json:"batch_id,omitempty"`
	Type              string     `json:"type"`
	Quantity          int        `json:"quantity"`
	MRPCents          int64      `json:"mrp_cents,omitempty"`
	SaleRateCents     int64      `json:"sale_rate_cents,omitempty"`
	PurchaseRateCents int64      `json:"purchase_rate_cents,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	SourceID          string     `json:"source_id,omitempty"`
	Remark            string     `json:"remark,omitempty"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
}

// StockBatch groups the IN movements of one stock entry. RemainingQty is
// decremented as the batch is consumed and never goes below zero; an
// exhausted batch is kept for expiry reporting and audit.
type StockBatch struct {
	ID           string    `json:"id"`
	SiteID       string    `json:"site_id"`
	BatchNumber  string    `json:"batch_number"`
	Location     string    `json:"location,omitempty"`
	RemainingQty int       `json:"remaining_qty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type StockInLine struct {
	ProductID         string `json:"product_id"`
	Quantity          int    `json:"quantity"`
	MRPCents          int64  `json:"mrp_cents,omitempty"`
	SaleRateCents     int64  `json:"sale_rate_cents,omitempty"`
	PurchaseRateCents int64  `json:"purchase_rate_cents,omitempty"`
	ExpiryDate        string `json:"expiry_date,omitempty"`
	Remark            string `json:"remark,omitempty"`
}

type StockInRequest struct {
	Site        string        `json:"site"`
	BatchNumber string        `json:"batch_number,omitempty"`
	Location    string        `json:"location,omitempty"`
	Lines       []StockInLine `json:"lines"`
}

type StockInResponse struct {
	Batch     StockBatch      `json:"batch"`
	Movements []StockMovement `json:"movements"`
}

type StockAdjustRequest struct {
	Site       string `json:"site"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type StockAdjustResponse struct {
	Movement StockMovement `json:"movement"`
	NewStock int           `json:"new_stock"`
}

type TransferLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type TransferRequest struct {
	SourceSite      string         `json:"source_site"`
	DestinationSite string         `json:"destination_site"`
	Remark          string         `json:"remark,omitempty"`
	Lines           []TransferLine `json:"lines"`
}

// Transfer engine states. A request either walks VALIDATING -> COMMITTING ->
// DONE or terminates in REJECTED with no side effects.
const (
	TransferStateValidating = "VALIDATING"
	TransferStateCommitting = "COMMITTING"
	TransferStateDone       = "DONE"
	TransferStateRejected   = "REJECTED"
)

type TransferLineResult struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Quantity      int    `json:"quantity"`
	SourceID      string `json:"source_id"`
	DestProductID string `json:"dest_product_id"`
	DestCreated   bool   `json:"dest_created"`
}

type TransferResponse struct {
	State  string               `json:"state"`
	Remark string               `json:"remark,omitempty"`
	Lines  []TransferLineResult `json:"lines,omitempty"`
	Reason string               `json:"reason,omitempty"`
}

// TransferCommitLine is the store-level plan for one transfer line. When
// DestProduct is nil the destination product must be created inside the
// commit transaction using NewDestProduct.
type TransferCommitLine struct {
	SourceProductID string
	DestProductID   string
	NewDestProduct  *Product
	Quantity        int
	OutMovement     StockMovement
	InMovement      StockMovement
}

type ProductStockSummary struct {
	Product       Product   `json:"product"`
	TotalQuantity int       `json:"total_quantity"`
	LastUpdated   time.Time `json:"last_updated"`
}

type ExpiringBatch struct {
	Movement StockMovement `json:"movement"`
	Batch    StockBatch    `json:"batch"`
	Product  Product       `json:"product"`
}

// BatchOffer is one batch the billing screen offers for a product, oldest
// expiry first with undated batches last. The cashier picks; the ledger
// never selects a batch on its own.
type BatchOffer struct {
	Batch      StockBatch `json:"batch"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

const (
	PaymentStatusPaid     = "PAID"
	PaymentStatusPartial  = "PARTIAL"
	PaymentStatusUnpaid   = "UNPAID"
	PaymentStatusRefunded = "REFUNDED"
)

// PaymentStatusFor derives a bill's payment status from its net and paid
// amounts. REFUNDED is never derived; it is set explicitly.
func PaymentStatusFor(netCents int64, paidCents int64) string {
	switch {
	case paidCents >= netCents:
		return PaymentStatusPaid
	case paidCents > 0:
		return PaymentStatusPartial
	default:
		return PaymentStatusUnpaid
	}
}

type TaxComponentAmount struct {
	Name        string  `json:"name"`
	RatePercent float64 `json:"rate_percent"`
	AmountCents int64   `json:"amount_cents"`
}

// SaleItem is a frozen snapshot: name, rates and tax are copied at sale time
// so historical bills do not change when the product is edited later.
type SaleItem struct {
	ProductID     string               `json:"product_id"`
	ProductName   string               `json:"product_name"`
	BatchID       string               `json:"batch_id,omitempty"`
	Quantity      int                  `json:"quantity"`
	RateCents     int64                `json:"rate_cents"`
	MRPCents      int64                `json:"mrp_cents"`
	DiscountCents int64                `json:"discount_cents"`
	TaxBreakdown  []TaxComponentAmount `json:"tax_breakdown,omitempty"`
	TaxCents      int64                `json:"tax_cents"`
	TotalCents    int64                `json:"total_cents"`
}

type Sale struct {
	ID                  string     `json:"id"`
	SiteID              string     `json:"site_id"`
	BillNo              int64      `json:"bill_no"`
	CustomerName        string     `json:"customer_name,omitempty"`
	CustomerPhone       string     `json:"customer_phone,omitempty"`
	Items               []SaleItem `json:"items"`
	GrossCents          int64      `json:"gross_cents"`
	DiscountCents       int64      `json:"discount_cents"`
	RewardDiscountCents int64      `json:"reward_discount_cents,omitempty"`
	NetCents            int64      `json:"net_cents"`
	PaidCents           int64      `json:"paid_cents"`
	DueCents            int64      `json:"due_cents"`
	PaymentStatus       string     `json:"payment_status"`
	ClaimedRewardID     string     `json:"claimed_reward_id,omitempty"`
	PointsAwarded       int64      `json:"points_awarded,omitempty"`
	IdempotencyKey      string     `json:"idempotency_key,omitempty"`
	IsEdited            bool       `json:"is_edited"`
	EditReason          string     `json:"edit_reason,omitempty"`
	EditedAt            *time.Time `json:"edited_at,omitempty"`
	CreatedBy           string     `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
}

type SaleLineRequest struct {
	ProductID     string `json:"product_id"`
	BatchID       string `json:"batch_id,omitempty"`
	Quantity      int    `json:"quantity"`
	RateCents     int64  `json:"rate_cents,omitempty"`
	DiscountCents int64  `json:"discount_cents,omitempty"`
}

type SaleCreateRequest struct {
	Site            string            `json:"site"`
	CustomerName    string            `json:"customer_name,omitempty"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	Lines           []SaleLineRequest `json:"lines"`
	DiscountCents   int64             `json:"discount_cents,omitempty"`
	PaidCents       int64             `json:"paid_cents"`
	ClaimedRewardID string            `json:"claimed_reward_id,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
}

type SaleCreateResponse struct {
	Sale      Sale  `json:"sale"`
	Duplicate bool  `json:"duplicate"`
	Points    int64 `json:"points_awarded"`
}

// SaleUpdateRequest corrects an existing bill. The edit is explicit and
// auditable: EditReason is mandatory and the sale is flagged is_edited.
type SaleUpdateRequest struct {
	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	DiscountCents *int64  `json:"discount_cents,omitempty"`
	PaidCents     *int64  `json:"paid_cents,omitempty"`
	EditReason    string  `json:"edit_reason"`
	ManagerPIN    string  `json:"manager_pin,omitempty"`
}

// RoyaltySettings configures the loyalty program for one site.
// EarnRatePerUnit is points awarded per whole currency unit of net bill.
type RoyaltySettings struct {
	SiteID          string    `json:"site_id"`
	Enabled         bool      `json:"enabled"`
	EarnRatePerUnit float64   `json:"earn_rate_per_unit"`
	MinBillCents    int64     `json:"min_bill_cents"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RoyaltyAccount holds the loyalty balance for one (site, phone) pair.
// Invariant: CurrentPoints == TotalEarned - TotalRedeemed.
type RoyaltyAccount struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	Phone         string    `json:"phone"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CurrentPoints int64     `json:"current_points"`
	TotalEarned   int64     `json:"total_earned"`
	TotalRedeemed int64     `json:"total_redeemed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	PointsTxEarned   = "EARNED"
	PointsTxRedeemed = "REDEEMED"
)

// RoyaltyPointTransaction is the immutable points ledger entry. Points is
// signed: positive for EARNED, negative for REDEEMED.
type RoyaltyPointTransaction struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	SiteID    string    `json:"site_id"`
	SaleID    string    `json:"sale_id,omitempty"`
	RewardID  string    `json:"reward_id,omitempty"`
	Type      string    `json:"type"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RewardKindDiscount = "DISCOUNT"
	RewardKindProduct  = "PRODUCT"

	RewardStatusActive   = "ACTIVE"
	RewardStatusInactive = "INACTIVE"
)

type RoyaltyReward struct {
	ID               string    `json:"id"`
	SiteID           string    `json:"site_id"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	PointsRequired   int64     `json:"points_required"`
	DiscountPercent  float64   `json:"discount_percent,omitempty"`
	DiscountCapCents int64     `json:"discount_cap_cents,omitempty"`
	ProductID        string    `json:"product_id,omitempty"`
	ProductQty       int       `json:"product_qty,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

type RewardCreateRequest struct {
	Site             string  `json:"site"`
	Name             string  `json:"name"`
	Kind             string  `json:"kind"`
	PointsRequired   int64   `json:"points_required"`
	DiscountPercent  float64 `json:"discount_percent,omitempty"`
	DiscountCapCents int64   `json:"discount_cap_cents,omitempty"`
	ProductID        string  `json:"product_id,omitempty"`
	ProductQty       int     `json:"product_qty,omitempty"`
}

type Redemption struct {
	ID                   string    `json:"id"`
	AccountID            string    `json:"account_id"`
	SiteID               string    `json:"site_id"`
	SaleID               string    `json:"sale_id,omitempty"`
	RewardID             string    `json:"reward_id"`
	PointsSpent          int64     `json:"points_spent"`
	DiscountAppliedCents int64     `json:"discount_applied_cents"`
	ProductID            string    `json:"product_id,omitempty"`
	ProductQty           int       `json:"product_qty,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

type RedeemRequest struct {
	Site      string `json:"site"`
	AccountID string `json:"account_id"`
	RewardID  string `json:"reward_id"`
	SaleID    string `json:"sale_id,omitempty"`
}

type RedeemResponse struct {
	Redemption Redemption     `json:"redemption"`
	Account    RoyaltyAccount `json:"account"`
}

type TaxComponent struct {
	Name        string  `json:"name"`
	RatePercent float64 `json:"rate_percent"`
}

// TaxConfig snapshots one site's jurisdiction rate set. It is auto-created
// with defaults on first access.
type TaxConfig struct {
	SiteID         string         `json:"site_id"`
	Enabled        bool           `json:"enabled"`
	Components     []TaxComponent `json:"components"`
	RegistrationNo string         `json:"registration_no,omitempty"`
	SecondaryRegNo string         `json:"secondary_reg_no,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type TaxConfigUpdateRequest struct {
	Site           string         `json:"site"`
	Enabled        *bool          `json:"enabled,omitempty"`
	Components     []TaxComponent `json:"components,omitempty"`
	RegistrationNo *string        `json:"registration_no,omitempty"`
	SecondaryRegNo *string        `json:"secondary_reg_no,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	TenantID  string    `json:"tenant_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	TenantID  string
	Active    bool
	CreatedAt time.Time
}
