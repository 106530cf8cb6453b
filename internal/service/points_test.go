package service

import (
	"errors"
	"testing"

	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/store"
)

func enableRoyalty(t *testing.T, svc *Service, earnRate float64, minBillCents int64) {
	t.Helper()
	_, err := svc.UpdateRoyaltySettings(adminCtx(), domain.RoyaltySettings{
		Enabled:         true,
		EarnRatePerUnit: earnRate,
		MinBillCents:    minBillCents,
	}, "main-pharmacy")
	if err != nil {
		t.Fatalf("enable royalty failed: %v", err)
	}
}

func sellToCustomer(t *testing.T, svc *Service, phone string, rateCents int64, qty int) domain.SaleCreateResponse {
	t.Helper()
	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:          "main-pharmacy",
		CustomerPhone: phone,
		PaidCents:     rateCents * int64(qty) * 2,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: qty, RateCents: rateCents},
		},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	return resp
}

func TestSaleEarnsFlooredPoints(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)

	resp := sellToCustomer(t, svc, "9800000001", 3333, 3)
	// net 11299 at 1 point per whole unit earns 112, the fraction is dropped
	if resp.Points != 112 {
		t.Fatalf("expected 112 points on net 11299, got %d", resp.Points)
	}
	if resp.Sale.PointsAwarded != 112 {
		t.Fatalf("expected points recorded on the bill, got %d", resp.Sale.PointsAwarded)
	}

	account, err := svc.GetRoyaltyAccount(cashierCtx(), "main-pharmacy", "9800000001")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if account.CurrentPoints != 112 || account.TotalEarned != 112 {
		t.Fatalf("unexpected balance %+v", account)
	}
}

func TestSaleBelowMinimumBillEarnsNothing(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 50_000)

	resp := sellToCustomer(t, svc, "9800000002", 3333, 3)
	if resp.Points != 0 {
		t.Fatalf("expected no points below minimum bill, got %d", resp.Points)
	}

	_, err := svc.GetRoyaltyAccount(cashierCtx(), "main-pharmacy", "9800000002")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no account created, got %v", err)
	}
}

func TestSaleWithoutPhoneEarnsNothing(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)

	resp := sellToCustomer(t, svc, "", 3333, 3)
	if resp.Points != 0 {
		t.Fatalf("expected no points without a customer phone, got %d", resp.Points)
	}
}

func TestClaimedRewardDiscountIsCapped(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)
	sellToCustomer(t, svc, "9800000003", 3333, 3) // earns 112

	reward, err := svc.CreateReward(adminCtx(), domain.RewardCreateRequest{
		Site:             "main-pharmacy",
		Name:             "10 percent off",
		Kind:             domain.RewardKindDiscount,
		PointsRequired:   50,
		DiscountPercent:  10,
		DiscountCapCents: 500,
	})
	if err != nil {
		t.Fatalf("create reward failed: %v", err)
	}

	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg")
	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:            "main-pharmacy",
		CustomerPhone:   "9800000003",
		ClaimedRewardID: reward.ID,
		PaidCents:       20000,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Quantity: 3, RateCents: 3333},
		},
	})
	if err != nil {
		t.Fatalf("claim sale failed: %v", err)
	}

	sale := resp.Sale
	// 10% of gross 11299 is 1130, clamped to the 500 cap
	if sale.RewardDiscountCents != 500 {
		t.Fatalf("expected capped reward discount 500, got %d", sale.RewardDiscountCents)
	}
	if sale.NetCents != 10799 {
		t.Fatalf("expected net 10799 after reward discount, got %d", sale.NetCents)
	}

	account, err := svc.GetRoyaltyAccount(ctx, "main-pharmacy", "9800000003")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if account.TotalRedeemed != 50 {
		t.Fatalf("expected 50 points spent on the claim, got %d", account.TotalRedeemed)
	}
	if account.CurrentPoints != account.TotalEarned-account.TotalRedeemed {
		t.Fatalf("points invariant broken: %+v", account)
	}
}

func TestClaimWithInsufficientPointsFailsBeforeStockMoves(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)
	sellToCustomer(t, svc, "9800000004", 100, 1) // earns 1 point

	reward, err := svc.CreateReward(adminCtx(), domain.RewardCreateRequest{
		Site:            "main-pharmacy",
		Name:            "big discount",
		Kind:            domain.RewardKindDiscount,
		PointsRequired:  1000,
		DiscountPercent: 50,
	})
	if err != nil {
		t.Fatalf("create reward failed: %v", err)
	}

	ctx := cashierCtx()
	product := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")
	before := product.CurrentStock

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Site:            "main-pharmacy",
		CustomerPhone:   "9800000004",
		ClaimedRewardID: reward.ID,
		PaidCents:       5000,
		Lines:           []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 2}},
	})
	if !errors.Is(err, store.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	after := findProduct(t, svc, ctx, "main-pharmacy", "Cetirizine 10mg")
	if after.CurrentStock != before {
		t.Fatalf("expected stock untouched by failed claim, got %d", after.CurrentStock)
	}
}

func TestRedeemRewardSpendsPoints(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)
	sellToCustomer(t, svc, "9800000005", 3333, 3) // earns 112

	ctx := cashierCtx()
	account, err := svc.GetRoyaltyAccount(ctx, "main-pharmacy", "9800000005")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}

	reward, err := svc.CreateReward(adminCtx(), domain.RewardCreateRequest{
		Site:           "main-pharmacy",
		Name:           "free paracetamol strip",
		Kind:           domain.RewardKindProduct,
		PointsRequired: 100,
		ProductID:      findProduct(t, svc, ctx, "main-pharmacy", "Paracetamol 500mg").ID,
		ProductQty:     1,
	})
	if err != nil {
		t.Fatalf("create reward failed: %v", err)
	}

	resp, err := svc.RedeemReward(ctx, domain.RedeemRequest{
		Site:      "main-pharmacy",
		AccountID: account.ID,
		RewardID:  reward.ID,
	})
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if resp.Redemption.PointsSpent != 100 {
		t.Fatalf("expected 100 points spent, got %d", resp.Redemption.PointsSpent)
	}
	if resp.Account.CurrentPoints != 12 {
		t.Fatalf("expected balance 12 after redeeming, got %d", resp.Account.CurrentPoints)
	}

	// The balance is now too low to redeem again.
	_, err = svc.RedeemReward(ctx, domain.RedeemRequest{
		Site:      "main-pharmacy",
		AccountID: account.ID,
		RewardID:  reward.ID,
	})
	if !errors.Is(err, store.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints on second redeem, got %v", err)
	}
}

func TestPointLedgerRecordsSignedEntries(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)
	sellToCustomer(t, svc, "9800000006", 3333, 3)

	ctx := cashierCtx()
	account, err := svc.GetRoyaltyAccount(ctx, "main-pharmacy", "9800000006")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}

	reward, err := svc.CreateReward(adminCtx(), domain.RewardCreateRequest{
		Site:            "main-pharmacy",
		Name:            "small discount",
		Kind:            domain.RewardKindDiscount,
		PointsRequired:  10,
		DiscountPercent: 5,
	})
	if err != nil {
		t.Fatalf("create reward failed: %v", err)
	}
	if _, err := svc.RedeemReward(ctx, domain.RedeemRequest{
		Site:      "main-pharmacy",
		AccountID: account.ID,
		RewardID:  reward.ID,
	}); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	txns, err := svc.ListPointTransactions(ctx, "main-pharmacy", account.ID, 20)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	var earned, redeemed int64
	for _, txn := range txns {
		switch txn.Type {
		case domain.PointsTxEarned:
			if txn.Points <= 0 {
				t.Fatalf("expected positive EARNED entry, got %d", txn.Points)
			}
			earned += txn.Points
		case domain.PointsTxRedeemed:
			if txn.Points >= 0 {
				t.Fatalf("expected negative REDEEMED entry, got %d", txn.Points)
			}
			redeemed += -txn.Points
		}
	}
	if earned != 112 || redeemed != 10 {
		t.Fatalf("unexpected ledger totals earned=%d redeemed=%d", earned, redeemed)
	}
}

func TestEligibleRewardsFilteredByBalanceAndStatus(t *testing.T) {
	svc := newTestService()
	enableRoyalty(t, svc, 1, 0)
	sellToCustomer(t, svc, "9800000007", 3333, 3) // earns 112

	cheap, err := svc.CreateReward(adminCtx(), domain.RewardCreateRequest{
		Site:            "main-pharmacy",
		Name:            "cheap",
		Kind:            domain.RewardKindDiscount,
		PointsRequired:  50,
		DiscountPercent: 5,
	})
	if err != nil {
		t.Fatalf("create reward failed: %v", err)
	}
	_, err = svc.CreateReward(adminCtx(), domain.RewardCreateRequest{
		Site:            "main-pharmacy",
		Name:            "expensive",
		Kind:            domain.RewardKindDiscount,
		PointsRequired:  5000,
		DiscountPercent: 25,
	})
	if err != nil {
		t.Fatalf("create reward failed: %v", err)
	}

	ctx := cashierCtx()
	account, err := svc.GetRoyaltyAccount(ctx, "main-pharmacy", "9800000007")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}

	eligible, err := svc.EligibleRewards(ctx, "main-pharmacy", account.ID)
	if err != nil {
		t.Fatalf("eligible rewards failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != cheap.ID {
		t.Fatalf("expected only the affordable reward, got %+v", eligible)
	}

	if _, err := svc.SetRewardStatus(adminCtx(), "main-pharmacy", cheap.ID, domain.RewardStatusInactive); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	eligible, err = svc.EligibleRewards(ctx, "main-pharmacy", account.ID)
	if err != nil {
		t.Fatalf("eligible rewards failed: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("expected no eligible rewards after deactivation, got %d", len(eligible))
	}
}

func TestRoyaltySettingsDefaultToDisabled(t *testing.T) {
	svc := newTestService()

	settings, err := svc.GetRoyaltySettings(cashierCtx(), "main-pharmacy")
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if settings.Enabled {
		t.Fatalf("expected royalty disabled before configuration")
	}
}
