package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"farmakart/backend/internal/cache"
	"farmakart/backend/internal/domain"
	"farmakart/backend/internal/service"
	"farmakart/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopTaxConfigCache{}, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response")
	}
	if body.TenantID != "tenant-demo" {
		t.Fatalf("expected tenant in response, got %q", body.TenantID)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?site=main-pharmacy", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	products := listProducts(t, api, loginAs(t, api, "cashier", "cashier123"))
	if len(products) == 0 {
		t.Fatalf("expected seeded products")
	}
}

func TestHandleStockEntries_ForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.StockInRequest{Site: "main-pharmacy"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/entries", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSales_CreateThenDuplicate(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	products := listProducts(t, api, token)

	payload, _ := json.Marshal(domain.SaleCreateRequest{
		Site:           "main-pharmacy",
		PaidCents:      10000,
		IdempotencyKey: "till-1-bill-77",
		Lines: []domain.SaleLineRequest{
			{ProductID: products[0].ID, Quantity: 1},
		},
	})

	submit := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := submit()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 for new sale, got %d (body: %s)", first.Code, first.Body.String())
	}

	second := submit()
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate submit, got %d (body: %s)", second.Code, second.Body.String())
	}
	var resp domain.SaleCreateResponse
	if err := json.NewDecoder(second.Body).Decode(&resp); err != nil {
		t.Fatalf("decode duplicate response: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("expected duplicate flag on resubmit")
	}
}

func TestHandleSaleEdit_RequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	products := listProducts(t, api, token)

	createPayload, _ := json.Marshal(domain.SaleCreateRequest{
		Site:      "main-pharmacy",
		PaidCents: 0,
		Lines:     []domain.SaleLineRequest{{ProductID: products[0].ID, Quantity: 1}},
	})
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(createPayload))
	createReq.Header.Set("Content-Type", "application/json")
	createReq.Header.Set("Authorization", "Bearer "+token)
	createReq.Header.Set("X-CSRF-Token", csrf)
	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create sale failed: %d %s", createRec.Code, createRec.Body.String())
	}
	var created domain.SaleCreateResponse
	if err := json.NewDecoder(createRec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	edit := func(pin string) *httptest.ResponseRecorder {
		paid := created.Sale.NetCents
		payload, _ := json.Marshal(domain.SaleUpdateRequest{
			PaidCents:  &paid,
			EditReason: "customer settled the due",
			ManagerPIN: pin,
		})
		url := fmt.Sprintf("/api/v1/sales/%s?site=main-pharmacy", created.Sale.ID)
		req := httptest.NewRequest(http.MethodPatch, url, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	denied := edit("000000")
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d (body: %s)", denied.Code, denied.Body.String())
	}

	allowed := edit("739154")
	if allowed.Code != http.StatusOK {
		t.Fatalf("expected 200 with manager pin, got %d (body: %s)", allowed.Code, allowed.Body.String())
	}
	var updated domain.Sale
	if err := json.NewDecoder(allowed.Body).Decode(&updated); err != nil {
		t.Fatalf("decode updated sale: %v", err)
	}
	if !updated.IsEdited || updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected edited PAID bill, got %+v", updated)
	}
}

func TestHandleTransfers_RejectionReturns409(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	products := listProducts(t, api, token)

	payload, _ := json.Marshal(domain.TransferRequest{
		SourceSite:      "main-pharmacy",
		DestinationSite: "branch-annex",
		Lines:           []domain.TransferLine{{ProductID: products[0].ID, Quantity: 100000}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for rejected transfer, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.TransferResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode transfer response: %v", err)
	}
	if resp.State != domain.TransferStateRejected || resp.Reason == "" {
		t.Fatalf("expected rejection with reason, got %+v", resp)
	}
}

// listProducts fetches the seeded catalog of main-pharmacy through the API.
func listProducts(t *testing.T, api *API, token string) []domain.Product {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?site=main-pharmacy", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products failed: %d %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	return body.Products
}
