package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
	"farmakart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Sites and catalog ----

func (s *Store) CreateSite(ctx context.Context, site domain.Site) (*domain.Site, error) {
	if site.TenantID == "" || site.Slug == "" || site.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if site.ID == "" {
		site.ID = xid.New("site")
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, tenant_id, slug, name, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, site.ID, site.TenantID, site.Slug, site.Name, site.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := site
	return &created, nil
}

func (s *Store) GetSiteBySlug(ctx context.Context, tenantID string, slug string) (*domain.Site, error) {
	var site domain.Site
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, slug, name, created_at
		FROM sites
		WHERE tenant_id = $1 AND slug = $2
	`, tenantID, slug).Scan(&site.ID, &site.TenantID, &site.Slug, &site.Name, &site.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &site, nil
}

func (s *Store) ListSites(ctx context.Context, tenantID string) ([]domain.Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, slug, name, created_at
		FROM sites
		WHERE tenant_id = $1
		ORDER BY slug
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := make([]domain.Site, 0, 8)
	for rows.Next() {
		var site domain.Site
		if err := rows.Scan(&site.ID, &site.TenantID, &site.Slug, &site.Name, &site.CreatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sites, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.SiteID == "" || category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if category.Type != domain.CategoryTypeProduct && category.Type != domain.CategoryTypeService {
		return nil, store.ErrInvalidInput
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, site_id, name, type, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, category.ID, category.SiteID, category.Name, category.Type, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context, siteID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, name, type, created_at
		FROM categories
		WHERE site_id = $1
		ORDER BY type, name
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.SiteID, &c.Name, &c.Type, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetCategoryByName(ctx context.Context, siteID string, name string, categoryType string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, name, type, created_at
		FROM categories
		WHERE site_id = $1 AND lower(name) = lower($2) AND type = $3
	`, siteID, name, categoryType).Scan(&c.ID, &c.SiteID, &c.Name, &c.Type, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCategory(ctx context.Context, siteID string, categoryID string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, name, type, created_at
		FROM categories
		WHERE site_id = $1 AND id = $2
	`, siteID, categoryID).Scan(&c.ID, &c.SiteID, &c.Name, &c.Type, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

const productColumns = `id, site_id, category_id, name, short_name, unit, mrp_cents, sale_rate_cents, purchase_rate_cents, current_stock, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var p domain.Product
	var shortName, unit sql.NullString
	err := row.Scan(&p.ID, &p.SiteID, &p.CategoryID, &p.Name, &shortName, &unit,
		&p.MRPCents, &p.SaleRateCents, &p.PurchaseRateCents, &p.CurrentStock, &p.CreatedAt, &p.UpdatedAt)
	p.ShortName = shortName.String
	p.Unit = unit.String
	return p, err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SiteID == "" || product.CategoryID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, site_id, category_id, name, short_name, unit,
			mrp_cents, sale_rate_cents, purchase_rate_cents, current_stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.SiteID, product.CategoryID, product.Name, nullIfEmpty(product.ShortName),
		nullIfEmpty(product.Unit), product.MRPCents, product.SaleRateCents, product.PurchaseRateCents,
		product.CurrentStock, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, siteID string, productID string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE site_id = $1 AND id = $2
	`, siteID, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByName(ctx context.Context, siteID string, name string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE site_id = $1 AND lower(name) = lower($2)
	`, siteID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, siteID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE site_id = $1
		ORDER BY name
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// ---- Stock ledger ----

func insertMovement(ctx context.Context, tx *sql.Tx, mv domain.StockMovement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, site_id, product_id, batch_id, type, quantity,
			mrp_cents, sale_rate_cents, purchase_rate_cents, expiry_date, source_id, remark, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, mv.ID, mv.SiteID, mv.ProductID, nullIfEmpty(mv.BatchID), mv.Type, mv.Quantity,
		mv.MRPCents, mv.SaleRateCents, mv.PurchaseRateCents, nullDate(mv.ExpiryDate),
		nullIfEmpty(mv.SourceID), nullIfEmpty(mv.Remark), mv.CreatedBy, mv.CreatedAt)
	return err
}

func (s *Store) CreateStockEntry(ctx context.Context, batch domain.StockBatch, movements []domain.StockMovement) (*domain.StockBatch, []domain.StockMovement, error) {
	if len(movements) == 0 || batch.SiteID == "" {
		return nil, nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	total := 0
	for _, mv := range movements {
		if mv.Quantity <= 0 || mv.Type != domain.MovementTypeIn || mv.SiteID != batch.SiteID {
			return nil, nil, store.ErrInvalidInput
		}
		var exists bool
		err := pgTx.QueryRowContext(ctx, `
			SELECT true FROM products WHERE site_id = $1 AND id = $2 FOR UPDATE
		`, batch.SiteID, mv.ProductID).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, store.ErrNotFound
			}
			return nil, nil, err
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_batches (id, site_id, batch_number, location, remaining_qty, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, batch.ID, batch.SiteID, batch.BatchNumber, nullIfEmpty(batch.Location), batch.RemainingQty, batch.CreatedBy, batch.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	written := make([]domain.StockMovement, 0, len(movements))
	for _, mv := range movements {
		if mv.ID == "" {
			mv.ID = xid.New("mv")
		}
		mv.BatchID = batch.ID
		mv.CreatedAt = now
		if err := insertMovement(ctx, pgTx, mv); err != nil {
			return nil, nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = current_stock + $1, updated_at = now()
			WHERE id = $2
		`, mv.Quantity, mv.ProductID)
		if err != nil {
			return nil, nil, err
		}
		written = append(written, mv)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	createdBatch := batch
	return &createdBatch, written, nil
}

func (s *Store) RecordAdjustment(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, int, error) {
	if movement.Quantity == 0 || movement.Type != domain.MovementTypeAdjustment || movement.Remark == "" {
		return nil, 0, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var currentStock int
	err = pgTx.QueryRowContext(ctx, `
		SELECT current_stock FROM products WHERE site_id = $1 AND id = $2 FOR UPDATE
	`, movement.SiteID, movement.ProductID).Scan(&currentStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, err
	}

	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	movement.CreatedAt = time.Now().UTC()
	if err := insertMovement(ctx, pgTx, movement); err != nil {
		return nil, 0, err
	}

	newStock := 0
	err = pgTx.QueryRowContext(ctx, `
		UPDATE products
		SET current_stock = current_stock + $1, updated_at = now()
		WHERE id = $2
		RETURNING current_stock
	`, movement.Quantity, movement.ProductID).Scan(&newStock)
	if err != nil {
		return nil, 0, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, 0, err
	}

	created := movement
	return &created, newStock, nil
}

func (s *Store) CommitTransfer(ctx context.Context, lines []domain.TransferCommitLine) ([]domain.TransferLineResult, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	results := make([]domain.TransferLineResult, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}

		var srcName string
		var srcStock int
		err := pgTx.QueryRowContext(ctx, `
			SELECT name, current_stock FROM products WHERE id = $1 FOR UPDATE
		`, line.SourceProductID).Scan(&srcName, &srcStock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if srcStock < line.Quantity {
			return nil, store.ErrInsufficientStock
		}

		destID := line.DestProductID
		destCreated := false
		if line.NewDestProduct != nil {
			p := *line.NewDestProduct
			if p.ID == "" {
				p.ID = xid.New("prod")
			}
			_, err = pgTx.ExecContext(ctx, `
				INSERT INTO products (id, site_id, category_id, name, short_name, unit,
					mrp_cents, sale_rate_cents, purchase_rate_cents, current_stock, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$10)
			`, p.ID, p.SiteID, p.CategoryID, p.Name, nullIfEmpty(p.ShortName), nullIfEmpty(p.Unit),
				p.MRPCents, p.SaleRateCents, p.PurchaseRateCents, now)
			if err != nil {
				if isUniqueViolation(err) {
					return nil, store.ErrConflict
				}
				return nil, err
			}
			destID = p.ID
			destCreated = true
		} else {
			var exists bool
			err := pgTx.QueryRowContext(ctx, `
				SELECT true FROM products WHERE id = $1 FOR UPDATE
			`, destID).Scan(&exists)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
		}

		out := line.OutMovement
		if out.ID == "" {
			out.ID = xid.New("mv")
		}
		out.ProductID = line.SourceProductID
		out.CreatedAt = now
		if err := insertMovement(ctx, pgTx, out); err != nil {
			return nil, err
		}

		in := line.InMovement
		if in.ID == "" {
			in.ID = xid.New("mv")
		}
		in.ProductID = destID
		in.CreatedAt = now
		if err := insertMovement(ctx, pgTx, in); err != nil {
			return nil, err
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products SET current_stock = current_stock - $1, updated_at = now() WHERE id = $2
		`, line.Quantity, line.SourceProductID)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products SET current_stock = current_stock + $1, updated_at = now() WHERE id = $2
		`, line.Quantity, destID)
		if err != nil {
			return nil, err
		}

		results = append(results, domain.TransferLineResult{
			ProductID:     line.SourceProductID,
			ProductName:   srcName,
			Quantity:      line.Quantity,
			SourceID:      out.SourceID,
			DestProductID: destID,
			DestCreated:   destCreated,
		})
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) StockByProduct(ctx context.Context, siteID string, from time.Time, to time.Time) ([]domain.ProductStockSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.site_id, p.category_id, p.name, p.short_name, p.unit,
			p.mrp_cents, p.sale_rate_cents, p.purchase_rate_cents, p.current_stock, p.created_at, p.updated_at,
			COALESCE(SUM(m.quantity), 0), MAX(m.created_at)
		FROM stock_movements m
		JOIN products p ON p.id = m.product_id
		WHERE m.site_id = $1
			AND ($2::timestamptz IS NULL OR m.created_at >= $2)
			AND ($3::timestamptz IS NULL OR m.created_at <= $3)
		GROUP BY p.id
		ORDER BY p.name
	`, siteID, nullTimeVal(from), nullTimeVal(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.ProductStockSummary, 0, 64)
	for rows.Next() {
		var sum domain.ProductStockSummary
		var shortName, unit sql.NullString
		p := &sum.Product
		if err := rows.Scan(&p.ID, &p.SiteID, &p.CategoryID, &p.Name, &shortName, &unit,
			&p.MRPCents, &p.SaleRateCents, &p.PurchaseRateCents, &p.CurrentStock, &p.CreatedAt, &p.UpdatedAt,
			&sum.TotalQuantity, &sum.LastUpdated); err != nil {
			return nil, err
		}
		p.ShortName = shortName.String
		p.Unit = unit.String
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) ExpiringBatches(ctx context.Context, siteID string, before time.Time) ([]domain.ExpiringBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.site_id, m.product_id, m.batch_id, m.type, m.quantity,
			m.mrp_cents, m.sale_rate_cents, m.purchase_rate_cents, m.expiry_date, m.source_id, m.remark, m.created_by, m.created_at,
			b.id, b.site_id, b.batch_number, b.location, b.remaining_qty, b.created_by, b.created_at,
			p.id, p.site_id, p.category_id, p.name, p.short_name, p.unit,
			p.mrp_cents, p.sale_rate_cents, p.purchase_rate_cents, p.current_stock, p.created_at, p.updated_at
		FROM stock_movements m
		JOIN stock_batches b ON b.id = m.batch_id
		JOIN products p ON p.id = m.product_id
		WHERE m.site_id = $1 AND m.quantity > 0 AND m.expiry_date IS NOT NULL
			AND m.expiry_date <= $2 AND b.remaining_qty > 0
		ORDER BY m.expiry_date, p.name
	`, siteID, nowDateUTC(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expiring := make([]domain.ExpiringBatch, 0, 32)
	for rows.Next() {
		var e domain.ExpiringBatch
		var mvBatchID, mvSourceID, mvRemark sql.NullString
		var expiry sql.NullTime
		var batchLocation, shortName, unit sql.NullString
		m, b, p := &e.Movement, &e.Batch, &e.Product
		if err := rows.Scan(&m.ID, &m.SiteID, &m.ProductID, &mvBatchID, &m.Type, &m.Quantity,
			&m.MRPCents, &m.SaleRateCents, &m.PurchaseRateCents, &expiry, &mvSourceID, &mvRemark, &m.CreatedBy, &m.CreatedAt,
			&b.ID, &b.SiteID, &b.BatchNumber, &batchLocation, &b.RemainingQty, &b.CreatedBy, &b.CreatedAt,
			&p.ID, &p.SiteID, &p.CategoryID, &p.Name, &shortName, &unit,
			&p.MRPCents, &p.SaleRateCents, &p.PurchaseRateCents, &p.CurrentStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		m.BatchID = mvBatchID.String
		m.SourceID = mvSourceID.String
		m.Remark = mvRemark.String
		if expiry.Valid {
			d := nowDateUTC(expiry.Time.UTC())
			m.ExpiryDate = &d
		}
		b.Location = batchLocation.String
		p.ShortName = shortName.String
		p.Unit = unit.String
		expiring = append(expiring, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expiring, nil
}

func (s *Store) ListMovements(ctx context.Context, siteID string, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, product_id, batch_id, type, quantity,
			mrp_cents, sale_rate_cents, purchase_rate_cents, expiry_date, source_id, remark, created_by, created_at
		FROM stock_movements
		WHERE site_id = $1 AND ($2 = '' OR product_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, siteID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		var batchID, sourceID, remark sql.NullString
		var expiry sql.NullTime
		if err := rows.Scan(&m.ID, &m.SiteID, &m.ProductID, &batchID, &m.Type, &m.Quantity,
			&m.MRPCents, &m.SaleRateCents, &m.PurchaseRateCents, &expiry, &sourceID, &remark, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.BatchID = batchID.String
		m.SourceID = sourceID.String
		m.Remark = remark.String
		if expiry.Valid {
			d := nowDateUTC(expiry.Time.UTC())
			m.ExpiryDate = &d
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) GetBatch(ctx context.Context, siteID string, batchID string) (*domain.StockBatch, error) {
	var b domain.StockBatch
	var location sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, batch_number, location, remaining_qty, created_by, created_at
		FROM stock_batches
		WHERE site_id = $1 AND id = $2
	`, siteID, batchID).Scan(&b.ID, &b.SiteID, &b.BatchNumber, &location, &b.RemainingQty, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.Location = location.String
	return &b, nil
}

func (s *Store) BatchOffers(ctx context.Context, siteID string, productID string) ([]domain.BatchOffer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.site_id, b.batch_number, b.location, b.remaining_qty, b.created_by, b.created_at, x.expiry_date
		FROM (
			SELECT batch_id, MIN(expiry_date) AS expiry_date
			FROM stock_movements
			WHERE site_id = $1 AND product_id = $2 AND quantity > 0 AND batch_id IS NOT NULL
			GROUP BY batch_id
		) x
		JOIN stock_batches b ON b.id = x.batch_id
		WHERE b.remaining_qty > 0
		ORDER BY x.expiry_date ASC NULLS LAST, b.batch_number
	`, siteID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.BatchOffer, 0, 16)
	for rows.Next() {
		var o domain.BatchOffer
		var location sql.NullString
		var expiry sql.NullTime
		b := &o.Batch
		if err := rows.Scan(&b.ID, &b.SiteID, &b.BatchNumber, &location, &b.RemainingQty, &b.CreatedBy, &b.CreatedAt, &expiry); err != nil {
			return nil, err
		}
		b.Location = location.String
		if expiry.Valid {
			d := nowDateUTC(expiry.Time.UTC())
			o.ExpiryDate = &d
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

// ---- Sales ----

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.SiteID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if sale.IdempotencyKey != "" {
		var existingID string
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM sales WHERE site_id = $1 AND idempotency_key = $2
		`, sale.SiteID, sale.IdempotencyKey).Scan(&existingID)
		if err == nil {
			return s.GetSale(ctx, sale.SiteID, existingID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for _, item := range sale.Items {
		if item.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		var stock int
		err := pgTx.QueryRowContext(ctx, `
			SELECT current_stock FROM products WHERE site_id = $1 AND id = $2 FOR UPDATE
		`, sale.SiteID, item.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if stock < item.Quantity {
			return nil, store.ErrInsufficientStock
		}
		if item.BatchID != "" {
			var remaining int
			err := pgTx.QueryRowContext(ctx, `
				SELECT remaining_qty FROM stock_batches WHERE site_id = $1 AND id = $2 FOR UPDATE
			`, sale.SiteID, item.BatchID).Scan(&remaining)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
			if remaining < item.Quantity {
				return nil, store.ErrInsufficientStock
			}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.CreatedAt = now

	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(bill_no), 0) + 1 FROM sales WHERE site_id = $1
	`, sale.SiteID).Scan(&sale.BillNo)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, site_id, bill_no, customer_name, customer_phone,
			gross_cents, discount_cents, reward_discount_cents, net_cents, paid_cents, due_cents,
			payment_status, claimed_reward_id, points_awarded, idempotency_key,
			is_edited, edit_reason, edited_at, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, sale.ID, sale.SiteID, sale.BillNo, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone),
		sale.GrossCents, sale.DiscountCents, sale.RewardDiscountCents, sale.NetCents, sale.PaidCents, sale.DueCents,
		sale.PaymentStatus, nullIfEmpty(sale.ClaimedRewardID), sale.PointsAwarded, nullIfEmpty(sale.IdempotencyKey),
		sale.IsEdited, nullIfEmpty(sale.EditReason), nullTime(sale.EditedAt), sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.SiteID, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for _, item := range sale.Items {
		breakdown, err := json.Marshal(item.TaxBreakdown)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, batch_id, quantity,
				rate_cents, mrp_cents, discount_cents, tax_breakdown, tax_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, item.ProductID, item.ProductName, nullIfEmpty(item.BatchID), item.Quantity,
			item.RateCents, item.MRPCents, item.DiscountCents, breakdown, item.TaxCents, item.TotalCents)
		if err != nil {
			return nil, err
		}

		// The decrement re-checks stock so a cart repeating one product
		// cannot drive the counter negative; the validation loop above saw
		// the pre-decrement value for every line.
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products SET current_stock = current_stock - $1, updated_at = now()
			WHERE id = $2 AND current_stock >= $1
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, store.ErrInsufficientStock
		}
		if item.BatchID != "" {
			res, err := pgTx.ExecContext(ctx, `
				UPDATE stock_batches SET remaining_qty = remaining_qty - $1
				WHERE id = $2 AND remaining_qty >= $1
			`, item.Quantity, item.BatchID)
			if err != nil {
				return nil, err
			}
			if n, err := res.RowsAffected(); err != nil {
				return nil, err
			} else if n == 0 {
				return nil, store.ErrInsufficientStock
			}
		}

		mv := domain.StockMovement{
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
		}
		if err := insertMovement(ctx, pgTx, mv); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

const saleColumns = `id, site_id, bill_no, customer_name, customer_phone,
	gross_cents, discount_cents, reward_discount_cents, net_cents, paid_cents, due_cents,
	payment_status, claimed_reward_id, points_awarded, idempotency_key,
	is_edited, edit_reason, edited_at, created_by, created_at`

func scanSale(row interface{ Scan(dest ...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	var customerName, customerPhone, claimedRewardID, idemKey, editReason sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.SiteID, &sale.BillNo, &customerName, &customerPhone,
		&sale.GrossCents, &sale.DiscountCents, &sale.RewardDiscountCents, &sale.NetCents, &sale.PaidCents, &sale.DueCents,
		&sale.PaymentStatus, &claimedRewardID, &sale.PointsAwarded, &idemKey,
		&sale.IsEdited, &editReason, &editedAt, &sale.CreatedBy, &sale.CreatedAt)
	sale.CustomerName = customerName.String
	sale.CustomerPhone = customerPhone.String
	sale.ClaimedRewardID = claimedRewardID.String
	sale.IdempotencyKey = idemKey.String
	sale.EditReason = editReason.String
	if editedAt.Valid {
		t := editedAt.Time.UTC()
		sale.EditedAt = &t
	}
	return sale, err
}

func (s *Store) loadSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, batch_id, quantity, rate_cents, mrp_cents,
			discount_cents, tax_breakdown, tax_cents, total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY product_name
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		var batchID sql.NullString
		var breakdown []byte
		if err := rows.Scan(&item.ProductID, &item.ProductName, &batchID, &item.Quantity,
			&item.RateCents, &item.MRPCents, &item.DiscountCents, &breakdown, &item.TaxCents, &item.TotalCents); err != nil {
			return nil, err
		}
		item.BatchID = batchID.String
		if len(breakdown) > 0 {
			if err := json.Unmarshal(breakdown, &item.TaxBreakdown); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) getSaleWhere(ctx context.Context, where string, args ...any) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.loadSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, siteID string, saleID string) (*domain.Sale, error) {
	return s.getSaleWhere(ctx, `site_id = $1 AND id = $2`, siteID, saleID)
}

func (s *Store) GetSaleByBillNo(ctx context.Context, siteID string, billNo int64) (*domain.Sale, error) {
	return s.getSaleWhere(ctx, `site_id = $1 AND bill_no = $2`, siteID, billNo)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, siteID string, key string) (*domain.Sale, error) {
	return s.getSaleWhere(ctx, `site_id = $1 AND idempotency_key = $2`, siteID, key)
}

func (s *Store) ListSales(ctx context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE site_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY bill_no DESC
		LIMIT $4
	`, siteID, nullTimeVal(from), nullTimeVal(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) UpdateSale(ctx context.Context, saleID string, update domain.SaleUpdateRequest, editedAt time.Time) (*domain.Sale, error) {
	if update.EditReason == "" {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	sale, err := scanSale(pgTx.QueryRowContext(ctx, `
		SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE
	`, saleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
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
	edited := editedAt.UTC()
	sale.EditedAt = &edited

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET customer_name = $2, customer_phone = $3, discount_cents = $4, paid_cents = $5,
			net_cents = $6, due_cents = $7, payment_status = $8,
			is_edited = true, edit_reason = $9, edited_at = $10
		WHERE id = $1
	`, sale.ID, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone), sale.DiscountCents, sale.PaidCents,
		sale.NetCents, sale.DueCents, sale.PaymentStatus, sale.EditReason, edited)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	items, err := s.loadSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) SetSalePoints(ctx context.Context, saleID string, points int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales SET points_awarded = $2 WHERE id = $1
	`, saleID, points)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- Points ledger ----

func (s *Store) GetRoyaltySettings(ctx context.Context, siteID string) (*domain.RoyaltySettings, error) {
	var settings domain.RoyaltySettings
	err := s.db.QueryRowContext(ctx, `
		SELECT site_id, enabled, earn_rate_per_unit, min_bill_cents, updated_at
		FROM royalty_settings
		WHERE site_id = $1
	`, siteID).Scan(&settings.SiteID, &settings.Enabled, &settings.EarnRatePerUnit, &settings.MinBillCents, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpsertRoyaltySettings(ctx context.Context, settings domain.RoyaltySettings) (*domain.RoyaltySettings, error) {
	if settings.SiteID == "" || settings.EarnRatePerUnit < 0 || settings.MinBillCents < 0 {
		return nil, store.ErrInvalidInput
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO royalty_settings (site_id, enabled, earn_rate_per_unit, min_bill_cents, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (site_id) DO UPDATE
		SET enabled = EXCLUDED.enabled, earn_rate_per_unit = EXCLUDED.earn_rate_per_unit,
			min_bill_cents = EXCLUDED.min_bill_cents, updated_at = EXCLUDED.updated_at
	`, settings.SiteID, settings.Enabled, settings.EarnRatePerUnit, settings.MinBillCents, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := settings
	return &saved, nil
}

const accountColumns = `id, site_id, phone, customer_name, current_points, total_earned, total_redeemed, created_at, updated_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (domain.RoyaltyAccount, error) {
	var account domain.RoyaltyAccount
	var customerName sql.NullString
	err := row.Scan(&account.ID, &account.SiteID, &account.Phone, &customerName,
		&account.CurrentPoints, &account.TotalEarned, &account.TotalRedeemed, &account.CreatedAt, &account.UpdatedAt)
	account.CustomerName = customerName.String
	return account, err
}

func (s *Store) GetRoyaltyAccount(ctx context.Context, siteID string, phone string) (*domain.RoyaltyAccount, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM royalty_accounts WHERE site_id = $1 AND phone = $2
	`, siteID, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Store) GetRoyaltyAccountByID(ctx context.Context, siteID string, accountID string) (*domain.RoyaltyAccount, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM royalty_accounts WHERE site_id = $1 AND id = $2
	`, siteID, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Store) ApplyEarn(ctx context.Context, siteID string, phone string, customerName string, points int64, saleID string) (*domain.RoyaltyAccount, *domain.RoyaltyPointTransaction, error) {
	if siteID == "" || phone == "" || points <= 0 {
		return nil, nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	account, err := scanAccount(pgTx.QueryRowContext(ctx, `
		INSERT INTO royalty_accounts (id, site_id, phone, customer_name, current_points, total_earned, total_redeemed, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5,0,$6,$6)
		ON CONFLICT (site_id, phone) DO UPDATE
		SET current_points = royalty_accounts.current_points + EXCLUDED.current_points,
			total_earned = royalty_accounts.total_earned + EXCLUDED.total_earned,
			customer_name = COALESCE(NULLIF(EXCLUDED.customer_name, ''), royalty_accounts.customer_name),
			updated_at = EXCLUDED.updated_at
		RETURNING `+accountColumns+`
	`, xid.New("acct"), siteID, phone, customerName, points, now))
	if err != nil {
		return nil, nil, err
	}

	txn := domain.RoyaltyPointTransaction{
		ID:        xid.New("ptxn"),
		AccountID: account.ID,
		SiteID:    siteID,
		SaleID:    saleID,
		Type:      domain.PointsTxEarned,
		Points:    points,
		CreatedAt: now,
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO royalty_point_transactions (id, account_id, site_id, sale_id, reward_id, type, points, created_at)
		VALUES ($1,$2,$3,$4,NULL,$5,$6,$7)
	`, txn.ID, txn.AccountID, txn.SiteID, nullIfEmpty(txn.SaleID), txn.Type, txn.Points, txn.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return &account, &txn, nil
}

func (s *Store) ApplyRedemption(ctx context.Context, redemption domain.Redemption) (*domain.Redemption, *domain.RoyaltyAccount, error) {
	if redemption.AccountID == "" || redemption.RewardID == "" || redemption.PointsSpent <= 0 {
		return nil, nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	account, err := scanAccount(pgTx.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM royalty_accounts WHERE site_id = $1 AND id = $2 FOR UPDATE
	`, redemption.SiteID, redemption.AccountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if account.CurrentPoints < redemption.PointsSpent {
		return nil, nil, store.ErrInsufficientPoints
	}

	now := time.Now().UTC()
	if redemption.ID == "" {
		redemption.ID = xid.New("rdm")
	}
	redemption.CreatedAt = now

	err = pgTx.QueryRowContext(ctx, `
		UPDATE royalty_accounts
		SET current_points = current_points - $2, total_redeemed = total_redeemed + $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, account.ID, redemption.PointsSpent, now).Scan(&account.ID, &account.SiteID, &account.Phone,
		&account.CustomerName, &account.CurrentPoints, &account.TotalEarned, &account.TotalRedeemed,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO royalty_point_transactions (id, account_id, site_id, sale_id, reward_id, type, points, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, xid.New("ptxn"), account.ID, redemption.SiteID, nullIfEmpty(redemption.SaleID), redemption.RewardID,
		domain.PointsTxRedeemed, -redemption.PointsSpent, now)
	if err != nil {
		return nil, nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO redemptions (id, account_id, site_id, sale_id, reward_id, points_spent,
			discount_applied_cents, product_id, product_qty, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, redemption.ID, redemption.AccountID, redemption.SiteID, nullIfEmpty(redemption.SaleID), redemption.RewardID,
		redemption.PointsSpent, redemption.DiscountAppliedCents, nullIfEmpty(redemption.ProductID), redemption.ProductQty, now)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	copyRedemption := redemption
	return &copyRedemption, &account, nil
}

const rewardColumns = `id, site_id, name, kind, points_required, discount_percent, discount_cap_cents, product_id, product_qty, status, created_at`

func scanReward(row interface{ Scan(dest ...any) error }) (domain.RoyaltyReward, error) {
	var reward domain.RoyaltyReward
	var productID sql.NullString
	err := row.Scan(&reward.ID, &reward.SiteID, &reward.Name, &reward.Kind, &reward.PointsRequired,
		&reward.DiscountPercent, &reward.DiscountCapCents, &productID, &reward.ProductQty, &reward.Status, &reward.CreatedAt)
	reward.ProductID = productID.String
	return reward, err
}

func (s *Store) CreateReward(ctx context.Context, reward domain.RoyaltyReward) (*domain.RoyaltyReward, error) {
	if reward.SiteID == "" || reward.Name == "" || reward.PointsRequired <= 0 {
		return nil, store.ErrInvalidInput
	}
	if reward.Kind != domain.RewardKindDiscount && reward.Kind != domain.RewardKindProduct {
		return nil, store.ErrInvalidInput
	}
	if reward.ID == "" {
		reward.ID = xid.New("rwd")
	}
	if reward.Status == "" {
		reward.Status = domain.RewardStatusActive
	}
	reward.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO royalty_rewards (id, site_id, name, kind, points_required,
			discount_percent, discount_cap_cents, product_id, product_qty, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, reward.ID, reward.SiteID, reward.Name, reward.Kind, reward.PointsRequired,
		reward.DiscountPercent, reward.DiscountCapCents, nullIfEmpty(reward.ProductID), reward.ProductQty,
		reward.Status, reward.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := reward
	return &created, nil
}

func (s *Store) GetReward(ctx context.Context, siteID string, rewardID string) (*domain.RoyaltyReward, error) {
	reward, err := scanReward(s.db.QueryRowContext(ctx, `
		SELECT `+rewardColumns+` FROM royalty_rewards WHERE site_id = $1 AND id = $2
	`, siteID, rewardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &reward, nil
}

func (s *Store) ListRewards(ctx context.Context, siteID string) ([]domain.RoyaltyReward, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rewardColumns+` FROM royalty_rewards WHERE site_id = $1 ORDER BY points_required, name
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rewards := make([]domain.RoyaltyReward, 0, 16)
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, reward)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rewards, nil
}

func (s *Store) SetRewardStatus(ctx context.Context, siteID string, rewardID string, status string) (*domain.RoyaltyReward, error) {
	if status != domain.RewardStatusActive && status != domain.RewardStatusInactive {
		return nil, store.ErrInvalidInput
	}
	reward, err := scanReward(s.db.QueryRowContext(ctx, `
		UPDATE royalty_rewards SET status = $3 WHERE site_id = $1 AND id = $2
		RETURNING `+rewardColumns+`
	`, siteID, rewardID, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &reward, nil
}

func (s *Store) ListPointTransactions(ctx context.Context, accountID string, limit int) ([]domain.RoyaltyPointTransaction, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, site_id, sale_id, reward_id, type, points, created_at
		FROM royalty_point_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.RoyaltyPointTransaction, 0, limit)
	for rows.Next() {
		var txn domain.RoyaltyPointTransaction
		var saleID, rewardID sql.NullString
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.SiteID, &saleID, &rewardID, &txn.Type, &txn.Points, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.SaleID = saleID.String
		txn.RewardID = rewardID.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

// ---- Tax config ----

func scanTaxConfig(row interface{ Scan(dest ...any) error }) (domain.TaxConfig, error) {
	var cfg domain.TaxConfig
	var components []byte
	var registrationNo, secondaryRegNo sql.NullString
	err := row.Scan(&cfg.SiteID, &cfg.Enabled, &components, &registrationNo, &secondaryRegNo, &cfg.UpdatedAt)
	if err != nil {
		return cfg, err
	}
	cfg.RegistrationNo = registrationNo.String
	cfg.SecondaryRegNo = secondaryRegNo.String
	if len(components) > 0 {
		if err := json.Unmarshal(components, &cfg.Components); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (s *Store) GetOrCreateTaxConfig(ctx context.Context, siteID string, defaults domain.TaxConfig) (*domain.TaxConfig, error) {
	components, err := json.Marshal(defaults.Components)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tax_configs (site_id, enabled, components, registration_no, secondary_reg_no, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (site_id) DO NOTHING
	`, siteID, defaults.Enabled, components, nullIfEmpty(defaults.RegistrationNo),
		nullIfEmpty(defaults.SecondaryRegNo), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	cfg, err := scanTaxConfig(s.db.QueryRowContext(ctx, `
		SELECT site_id, enabled, components, registration_no, secondary_reg_no, updated_at
		FROM tax_configs
		WHERE site_id = $1
	`, siteID))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) UpdateTaxConfig(ctx context.Context, config domain.TaxConfig) (*domain.TaxConfig, error) {
	if config.SiteID == "" {
		return nil, store.ErrInvalidInput
	}
	for _, c := range config.Components {
		if c.Name == "" || c.RatePercent < 0 {
			return nil, store.ErrInvalidInput
		}
	}
	components, err := json.Marshal(config.Components)
	if err != nil {
		return nil, err
	}
	config.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tax_configs
		SET enabled = $2, components = $3, registration_no = $4, secondary_reg_no = $5, updated_at = $6
		WHERE site_id = $1
	`, config.SiteID, config.Enabled, components, nullIfEmpty(config.RegistrationNo),
		nullIfEmpty(config.SecondaryRegNo), config.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := config
	return &saved, nil
}

// ---- Audit trail ----

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, site_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, nullIfEmpty(entry.SiteID), entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR site_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, siteID, nullTimeVal(from), nullTimeVal(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var logSiteID, entityID, detail sql.NullString
		if err := rows.Scan(&entry.ID, &logSiteID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entityID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.SiteID = logSiteID.String
		entry.EntityID = entityID.String
		entry.Detail = detail.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// ---- Auth accounts ----

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, tenant_id, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, user.Username, user.Password, user.Role, user.TenantID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, tenant_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.TenantID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if password == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- helpers ----

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
