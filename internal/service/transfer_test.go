package service

import (
	"strings"
	"testing"

	"farmakart/backend/internal/domain"
)

func TestTransferMovesStockBetweenSites(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	source := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	resp, err := svc.Transfer(ctx, domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Remark:          "weekly restock",
		Lines:           []domain.TransferLine{{ProductID: source.ID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if resp.State != domain.TransferStateDone {
		t.Fatalf("expected DONE, got %s (%s)", resp.State, resp.Reason)
	}
	if len(resp.Lines) != 1 {
		t.Fatalf("expected 1 line result, got %d", len(resp.Lines))
	}
	if resp.Lines[0].SourceID == "" {
		t.Fatalf("expected correlation id on transfer line")
	}
	if resp.Lines[0].DestCreated {
		t.Fatalf("destination already stocks the product, expected no auto-provision")
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 50 {
		t.Fatalf("expected source stock 50, got %d", after.CurrentStock)
	}
	dest := findProduct(t, svc, ctx, "branch-annex", "Paracetamol 500mg")
	if dest.CurrentStock != 70 {
		t.Fatalf("expected destination stock 70, got %d", dest.CurrentStock)
	}

	movements, err := svc.ListMovements(ctx, "main-pharmacy", source.ID, 50)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	foundOut := false
	for _, mv := range movements {
		if mv.Type == domain.MovementTypeTransfer && mv.Quantity == -10 && mv.SourceID == resp.Lines[0].SourceID {
			foundOut = true
		}
	}
	if !foundOut {
		t.Fatalf("expected negative TRANSFER movement at source sharing the correlation id")
	}
}

func TestTransferAutoProvisionsDestinationProduct(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	source := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")

	resp, err := svc.Transfer(ctx, domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines:           []domain.TransferLine{{ProductID: source.ID, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if resp.State != domain.TransferStateDone {
		t.Fatalf("expected DONE, got %s (%s)", resp.State, resp.Reason)
	}
	if !resp.Lines[0].DestCreated {
		t.Fatalf("expected destination product to be auto-provisioned")
	}

	dest := findProduct(t, svc, ctx, "branch-annex", "Cetirizine 10mg")
	if dest.CurrentStock != 5 {
		t.Fatalf("expected provisioned product stock 5, got %d", dest.CurrentStock)
	}
	if dest.SaleRateCents != source.SaleRateCents || dest.MRPCents != source.MRPCents {
		t.Fatalf("expected price snapshot copied, got %+v", dest)
	}
}

func TestTransferRejectsMissingDestinationCategory(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	// Cough Syrup sits in the Syrups category, which branch-annex does not
	// have; the transfer must reject rather than create the category.
	syrup := findProduct(t, svc, ctx, "main-pharmacy", "Cough Syrup 100ml")
	pcm := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	resp, err := svc.Transfer(ctx, domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines: []domain.TransferLine{
			{ProductID: pcm.ID, Quantity: 10},
			{ProductID: syrup.ID, Quantity: 5},
		},
	})
	if err != nil {
		t.Fatalf("expected rejection, not an error: %v", err)
	}
	if resp.State != domain.TransferStateRejected {
		t.Fatalf("expected REJECTED, got %s", resp.State)
	}
	if !strings.Contains(resp.Reason, "no category Syrups") {
		t.Fatalf("expected missing category in reason, got %q", resp.Reason)
	}

	afterPCM := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if afterPCM.CurrentStock != 60 {
		t.Fatalf("expected first line untouched after rejection, got %d", afterPCM.CurrentStock)
	}
	categories, err := svc.ListCategories(ctx, "branch-annex")
	if err != nil {
		t.Fatalf("list categories failed: %v", err)
	}
	for _, c := range categories {
		if c.Name == "Syrups" {
			t.Fatalf("rejected transfer must not create categories at the destination")
		}
	}
	products, err := svc.ListProducts(ctx, "branch-annex")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Name == "Cough Syrup 100ml" {
			t.Fatalf("rejected transfer must not create products at the destination")
		}
	}
}

func TestTransferRejectsInsufficientStock(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	source := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	resp, err := svc.Transfer(ctx, domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines:           []domain.TransferLine{{ProductID: source.ID, Quantity: 100}},
	})
	if err != nil {
		t.Fatalf("expected rejection, not an error: %v", err)
	}
	if resp.State != domain.TransferStateRejected {
		t.Fatalf("expected REJECTED, got %s", resp.State)
	}
	if !strings.Contains(resp.Reason, "have 60, need 100") {
		t.Fatalf("expected stock shortfall in reason, got %q", resp.Reason)
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 60 {
		t.Fatalf("expected source stock untouched, got %d", after.CurrentStock)
	}
}

func TestTransferRejectsSameSite(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	source := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	// The padded slug resolves to the same site; the rule compares resolved
	// sites, not raw strings.
	for _, sourceSlug := range []string{"main-pharmacy", " main-pharmacy"} {
		resp, err := svc.Transfer(ctx, domain.TransferRequest{
			SourceSite:      sourceSlug,
			DestinationSite: "main-pharmacy",
			Lines:           []domain.TransferLine{{ProductID: source.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("source %q: expected rejection, not an error: %v", sourceSlug, err)
		}
		if resp.State != domain.TransferStateRejected {
			t.Fatalf("source %q: expected REJECTED, got %s", sourceSlug, resp.State)
		}
		if !strings.Contains(resp.Reason, "same") {
			t.Fatalf("source %q: expected same-site reason, got %q", sourceSlug, resp.Reason)
		}
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 60 {
		t.Fatalf("expected stock untouched after same-site rejection, got %d", after.CurrentStock)
	}
}

func TestTransferRejectsDuplicateLineOverdraw(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	source := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	// Each line alone fits in the stock of 60; together they do not.
	resp, err := svc.Transfer(ctx, domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines: []domain.TransferLine{
			{ProductID: source.ID, Quantity: 40},
			{ProductID: source.ID, Quantity: 40},
		},
	})
	if err != nil {
		t.Fatalf("expected rejection, not an error: %v", err)
	}
	if resp.State != domain.TransferStateRejected {
		t.Fatalf("expected REJECTED, got %s", resp.State)
	}
	if !strings.Contains(resp.Reason, "have 60, need 80") {
		t.Fatalf("expected summed shortfall in reason, got %q", resp.Reason)
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 60 {
		t.Fatalf("expected source stock untouched, got %d", after.CurrentStock)
	}
}

func TestTransferAllOrNothing(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	pcm := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	ctz := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")

	resp, err := svc.Transfer(ctx, domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines: []domain.TransferLine{
			{ProductID: pcm.ID, Quantity: 10},
			{ProductID: ctz.ID, Quantity: 100},
		},
	})
	if err != nil {
		t.Fatalf("expected rejection, not an error: %v", err)
	}
	if resp.State != domain.TransferStateRejected {
		t.Fatalf("expected REJECTED, got %s", resp.State)
	}

	afterPCM := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if afterPCM.CurrentStock != 60 {
		t.Fatalf("expected first line untouched after rejection, got %d", afterPCM.CurrentStock)
	}
}

func TestTransferRequiresAdmin(t *testing.T) {
	svc := newTestService()
	source := findProduct(t, svc, cashierCtx(), "main-pharmacy", "Paracetamol 500mg")

	_, err := svc.Transfer(cashierCtx(), domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines:           []domain.TransferLine{{ProductID: source.ID, Quantity: 1}},
	})
	if err == nil {
		t.Fatalf("expected cashier transfer to fail")
	}
}
