package service

import (
	"context"
	"errors"
	"fmt"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
	"farmakart/backend/internal/xid"
)

// Transfer moves stock between two sites of the same tenant. The request is
// validated line by line first; any failure rejects the whole transfer with
// a reason and no side effects. A valid request is committed as one store
// transaction: paired TRANSFER movements (negative at source, positive at
// destination) sharing a correlation id per line, with the destination
// product auto-provisioned by name when the receiving site does not stock
// it yet. Auto-provision requires a category of the same name and type to
// already exist at the destination; transfers never create categories.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.TransferResponse{}, fmt.Errorf("admin role required")
	}

	rejected := func(reason string) (domain.TransferResponse, error) {
		return domain.TransferResponse{State: domain.TransferStateRejected, Reason: reason}, nil
	}

	if len(req.Lines) == 0 {
		return rejected("transfer has no lines")
	}

	source, err := s.resolveSite(ctx, req.SourceSite)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected("unknown source site")
		}
		return domain.TransferResponse{}, err
	}
	dest, err := s.resolveSite(ctx, req.DestinationSite)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected("unknown destination site")
		}
		return domain.TransferResponse{}, err
	}
	// Slugs are trimmed during resolution, so the same-site rule has to
	// compare resolved identities rather than the raw request strings.
	if source.ID == dest.ID {
		return rejected("source and destination site are the same")
	}

	commitLines := make([]domain.TransferCommitLine, 0, len(req.Lines))
	needed := make(map[string]int)
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return rejected(fmt.Sprintf("invalid quantity %d for product %s", line.Quantity, line.ProductID))
		}
		product, err := s.repo.GetProduct(ctx, source.ID, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return rejected(fmt.Sprintf("product %s not found at source site", line.ProductID))
			}
			return domain.TransferResponse{}, err
		}
		// Demand is summed across lines so a cart repeating one product
		// cannot pass validation against the same snapshot twice.
		needed[product.ID] += line.Quantity
		if product.CurrentStock < needed[product.ID] {
			return rejected(fmt.Sprintf("insufficient stock for %s: have %d, need %d", product.Name, product.CurrentStock, needed[product.ID]))
		}

		commitLine, reject, err := s.planTransferLine(ctx, *product, dest.ID, line.Quantity, req.Remark, actor.Username)
		if err != nil {
			return domain.TransferResponse{}, err
		}
		if reject != "" {
			return rejected(reject)
		}
		commitLines = append(commitLines, commitLine)
	}

	results, err := s.repo.CommitTransfer(ctx, commitLines)
	if err != nil {
		// Stock can be taken by a concurrent sale between validation and
		// commit; that shows up here as a rejection, not a partial move.
		if errors.Is(err, store.ErrInsufficientStock) {
			return rejected("insufficient stock at commit time")
		}
		return domain.TransferResponse{}, err
	}

	for _, r := range results {
		s.logAudit(ctx, source.ID, "stock_transfer", "product", r.ProductID,
			fmt.Sprintf("qty=%d,dest_site=%s,dest_product=%s,created=%t", r.Quantity, dest.Slug, r.DestProductID, r.DestCreated))
	}

	return domain.TransferResponse{
		State:  domain.TransferStateDone,
		Remark: req.Remark,
		Lines:  results,
	}, nil
}

// planTransferLine resolves the destination product by name. When the
// destination site has no product with that name, the plan carries a new
// product carcass cloned from the source (price fields copied as a
// snapshot, category matched by name and type); the store creates it
// inside the commit transaction. A destination without a matching category
// yields a rejection reason; planning performs reads only, so a rejection
// on any line leaves nothing behind.
func (s *Service) planTransferLine(ctx context.Context, product domain.Product, destSiteID string, quantity int, remark string, username string) (domain.TransferCommitLine, string, error) {
	sourceID := xid.New("tr")

	line := domain.TransferCommitLine{
		SourceProductID: product.ID,
		Quantity:        quantity,
		OutMovement: domain.StockMovement{
			SiteID:            product.SiteID,
			Type:              domain.MovementTypeTransfer,
			Quantity:          -quantity,
			MRPCents:          product.MRPCents,
			SaleRateCents:     product.SaleRateCents,
			PurchaseRateCents: product.PurchaseRateCents,
			SourceID:          sourceID,
			Remark:            remark,
			CreatedBy:         username,
		},
		InMovement: domain.StockMovement{
			SiteID:            destSiteID,
			Type:              domain.MovementTypeTransfer,
			Quantity:          quantity,
			MRPCents:          product.MRPCents,
			SaleRateCents:     product.SaleRateCents,
			PurchaseRateCents: product.PurchaseRateCents,
			SourceID:          sourceID,
			Remark:            remark,
			CreatedBy:         username,
		},
	}

	existing, err := s.repo.GetProductByName(ctx, destSiteID, product.Name)
	if err == nil {
		line.DestProductID = existing.ID
		return line, "", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.TransferCommitLine{}, "", err
	}

	sourceCategory, err := s.repo.GetCategory(ctx, product.SiteID, product.CategoryID)
	if err != nil {
		return domain.TransferCommitLine{}, "", err
	}
	category, err := s.repo.GetCategoryByName(ctx, destSiteID, sourceCategory.Name, sourceCategory.Type)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TransferCommitLine{}, fmt.Sprintf("destination has no category %s (%s) for %s", sourceCategory.Name, sourceCategory.Type, product.Name), nil
		}
		return domain.TransferCommitLine{}, "", err
	}

	line.NewDestProduct = &domain.Product{
		SiteID:            destSiteID,
		CategoryID:        category.ID,
		Name:              product.Name,
		ShortName:         product.ShortName,
		Unit:              product.Unit,
		MRPCents:          product.MRPCents,
		SaleRateCents:     product.SaleRateCents,
		PurchaseRateCents: product.PurchaseRateCents,
	}
	return line, "", nil
}
