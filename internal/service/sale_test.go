package service

import (
	"errors"
	"testing"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
)

func TestCreateSaleFreezesTaxSnapshot(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 11299,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 3, RateCents: 3333},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	sale := resp.Sale
	if len(sale.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(sale.Items))
	}
	item := sale.Items[0]
	if item.TaxCents != 1300 {
		t.Fatalf("expected 1300 tax on 9999 at 13%%, got %d", item.TaxCents)
	}
	if item.TotalCents != 11299 {
		t.Fatalf("expected line total 11299, got %d", item.TotalCents)
	}
	if len(item.TaxBreakdown) != 1 || item.TaxBreakdown[0].Name != "VAT" {
		t.Fatalf("expected a single VAT component, got %+v", item.TaxBreakdown)
	}
	if sale.GrossCents != 11299 || sale.NetCents != 11299 {
		t.Fatalf("unexpected totals gross=%d net=%d", sale.GrossCents, sale.NetCents)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected PAID, got %s", sale.PaymentStatus)
	}
}

func TestCreateSaleLineDiscountReducesTaxable(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 2260,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 1, DiscountCents: 200},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	item := resp.Sale.Items[0]
	if item.RateCents != 2200 {
		t.Fatalf("expected rate defaulted from product, got %d", item.RateCents)
	}
	// taxable 2000 at 13% is 260
	if item.TaxCents != 260 {
		t.Fatalf("expected 260 tax after discount, got %d", item.TaxCents)
	}
	if item.TotalCents != 2260 {
		t.Fatalf("expected line total 2260, got %d", item.TotalCents)
	}
}

func TestCreateSaleDecrementsStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 10000,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 57 {
		t.Fatalf("expected stock 57 after selling 3 of 60, got %d", after.CurrentStock)
	}
}

func TestCreateSaleRejectsInsufficientStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 200000,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 61},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 60 {
		t.Fatalf("expected stock untouched after rejection, got %d", after.CurrentStock)
	}
}

func TestCreateSaleRejectsDuplicateLineOverdraw(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	// Each line alone fits in the stock of 60; the cart as a whole does not.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 400000,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 40},
			{ProductID: product.ID, Quantity: 40},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 60 {
		t.Fatalf("expected stock untouched after rejection, got %d", after.CurrentStock)
	}
}

func TestCreateSaleAllowsDuplicateLinesWithinStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 400000,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 30},
			{ProductID: product.ID, Quantity: 30},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if len(resp.Sale.Items) != 2 {
		t.Fatalf("expected both lines kept, got %d", len(resp.Sale.Items))
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 0 {
		t.Fatalf("expected stock drained to 0, got %d", after.CurrentStock)
	}
}

func TestCreateSaleAssignsSequentialBillNumbers(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")

	first, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 2000,
		Lines:     []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 2000,
		Lines:     []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("second sale failed: %v", err)
	}

	if second.Sale.BillNo != first.Sale.BillNo+1 {
		t.Fatalf("expected consecutive bill numbers, got %d then %d", first.Sale.BillNo, second.Sale.BillNo)
	}

	lookup, err := svc.GetSaleByBillNo(ctx, "main-pharmacy", first.Sale.BillNo)
	if err != nil {
		t.Fatalf("lookup by bill no failed: %v", err)
	}
	if lookup.ID != first.Sale.ID {
		t.Fatalf("bill number lookup returned wrong sale")
	}
}

func TestCreateSaleIdempotentResubmit(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")

	req := domain.SaleCreateRequest{
		Site:           "main-pharmacy",
		PaidCents:      10000,
		IdempotencyKey: "pos1-resubmit-42",
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 2},
		},
	}

	first, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first submit must not be flagged duplicate")
	}

	second, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected resubmit to be flagged duplicate")
	}
	if second.Sale.ID != first.Sale.ID || second.Sale.BillNo != first.Sale.BillNo {
		t.Fatalf("expected resubmit to return the original bill")
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	if after.CurrentStock != 58 {
		t.Fatalf("expected stock decremented once, got %d", after.CurrentStock)
	}
}

func TestCreateSalePartialPayment(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Cough Syrup 100ml")

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 5000,
		Lines:     []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	sale := resp.Sale
	if sale.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected PARTIAL, got %s", sale.PaymentStatus)
	}
	if sale.DueCents != sale.NetCents-5000 {
		t.Fatalf("expected due %d, got %d", sale.NetCents-5000, sale.DueCents)
	}
}

func TestUpdateSaleRequiresEditReason(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")

	created, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 0,
		Lines:     []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	paid := int64(1695)
	_, err = svc.UpdateSale(ctx, "main-pharmacy", created.Sale.ID, domain.SaleUpdateRequest{
		PaidCents: &paid,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected missing edit reason to be rejected, got %v", err)
	}

	updated, err := svc.UpdateSale(ctx, "main-pharmacy", created.Sale.ID, domain.SaleUpdateRequest{
		PaidCents:  &paid,
		EditReason: "customer settled the due",
	})
	if err != nil {
		t.Fatalf("update sale failed: %v", err)
	}
	if !updated.IsEdited || updated.EditReason != "customer settled the due" {
		t.Fatalf("expected edit to be flagged with reason, got %+v", updated)
	}
	if updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected status recomputed to PAID, got %s", updated.PaymentStatus)
	}
	if updated.DueCents != 0 {
		t.Fatalf("expected due cleared, got %d", updated.DueCents)
	}
}

func TestCreateSaleRejectsDiscountAboveGross(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:          "main-pharmacy",
		PaidCents:     0,
		DiscountCents: 1_000_000,
		Lines:         []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected oversized discount to be rejected, got %v", err)
	}
}
