package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"htxsale/backend/internal/domain"
	"htxsale/backend/internal/service"
	"htxsale/backend/internal/store/memory"
)

var testHTXList = []string{"MINH VY", "THANH VY"}

type testEnv struct {
	handler http.Handler
	auth    *AuthManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_SALE_PASSWORD", "sale123")

	repo := memory.NewSeeded(testHTXList)
	svc := service.New(repo, nil, testHTXList)
	auth := NewAuthManager("test-secret", time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000")
	return &testEnv{handler: api.Handler(), auth: auth}
}

func (e *testEnv) token(t *testing.T, username string, password string) string {
	t.Helper()
	resp, err := e.auth.Login(context.Background(), domain.LoginRequest{Username: username, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return resp.AccessToken
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoginAndQRLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "sale001", Password: "sale123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var loginResp domain.LoginResponse
	decodeBody(t, rec, &loginResp)
	if loginResp.AccessToken == "" || loginResp.Role != domain.RoleSale {
		t.Fatalf("unexpected login response: %+v", loginResp)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "sale001", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login-qr", "", domain.QRLoginRequest{Token: "sale001-qr-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("qr login status = %d, body %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &loginResp)
	if loginResp.Username != "sale001" {
		t.Fatalf("qr login user = %q", loginResp.Username)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login-qr", "", domain.QRLoginRequest{Token: "no-such-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown qr token status = %d", rec.Code)
	}
}

func TestAuthGuards(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/htx", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/htx", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", rec.Code)
	}

	saleToken := env.token(t, "sale001", "sale123")
	rec = env.do(t, http.MethodGet, "/api/v1/admin/inventory", saleToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sale on admin route status = %d", rec.Code)
	}
}

func TestIssueBillEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "sale001", "sale123")

	rec := env.do(t, http.MethodPost, "/api/v1/bills", token, domain.BillRequest{
		Htx:          "MINH VY",
		DriverName:   "Nguyễn Văn A",
		LicensePlate: "51C-123.45",
		Phone:        "0901234567",
		LogoQty:      2,
		CardQty:      1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp domain.BillResponse
	decodeBody(t, rec, &resp)
	if resp.Message != "Bill issued successfully" || resp.OrderID == "" {
		t.Fatalf("unexpected payload: %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/inventory?htx=MINH+VY", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inventory status = %d", rec.Code)
	}
	var inv domain.InventoryResponse
	decodeBody(t, rec, &inv)
	if inv.Logo.Quantity != 98 || inv.Card.Quantity != 99 {
		t.Fatalf("inventory after issue: %+v", inv)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/bills/"+url.PathEscape(resp.OrderID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bill lookup status = %d", rec.Code)
	}
}

func TestIssueBillErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "sale001", "sale123")

	cases := []struct {
		name    string
		req     domain.BillRequest
		status  int
		message string
	}{
		{"missing htx", domain.BillRequest{LogoQty: 1}, http.StatusBadRequest, "Missing HTX"},
		{"negative qty", domain.BillRequest{Htx: "MINH VY", LogoQty: -1}, http.StatusBadRequest, "Invalid quantity or amount"},
		{"unknown htx", domain.BillRequest{Htx: "HTX LẠ", LogoQty: 1}, http.StatusBadRequest, "Unknown HTX"},
		{"insufficient logo", domain.BillRequest{Htx: "MINH VY", LogoQty: 500}, http.StatusConflict, "Insufficient logo stock"},
		{"insufficient tshirt", domain.BillRequest{Htx: "MINH VY", TshirtQty: 500}, http.StatusConflict, "Insufficient tshirt stock"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/bills", token, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body.String())
			}
			var payload struct {
				Error string `json:"error"`
			}
			decodeBody(t, rec, &payload)
			if payload.Error != tc.message {
				t.Fatalf("error = %q, want %q", payload.Error, tc.message)
			}
		})
	}
}

func TestAdminInventoryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.token(t, "admin", "admin123")

	logo, card, tshirt := 5, 6, 7
	rec := env.do(t, http.MethodPut, "/api/v1/admin/inventory", adminToken, domain.StockSetRequest{
		Htx:         "THANH VY",
		LogoStock:   &logo,
		CardStock:   &card,
		TshirtStock: &tshirt,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/admin/inventory", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var listing struct {
		Inventory []domain.HtxStock `json:"inventory"`
	}
	decodeBody(t, rec, &listing)
	for _, row := range listing.Inventory {
		if row.Htx == "THANH VY" && (row.LogoStock != 5 || row.CardStock != 6 || row.TshirtStock != 7) {
			t.Fatalf("stock row not replaced: %+v", row)
		}
	}

	rec = env.do(t, http.MethodPut, "/api/v1/admin/inventory", adminToken, domain.StockSetRequest{
		Htx:       "THANH VY",
		LogoStock: &logo,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("partial update status = %d", rec.Code)
	}
}

func TestPricingEndpoints(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.token(t, "admin", "admin123")
	saleToken := env.token(t, "sale001", "sale123")

	rec := env.do(t, http.MethodPut, "/api/v1/admin/pricing", adminToken, domain.Pricing{
		LogoPrice: 60000, CardPrice: 45000, TshirtPrice: 35000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put pricing status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/pricing", saleToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read pricing status = %d", rec.Code)
	}
	var pricing domain.Pricing
	decodeBody(t, rec, &pricing)
	if pricing.LogoPrice != 60000 || pricing.TshirtPrice != 35000 {
		t.Fatalf("pricing = %+v", pricing)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/admin/pricing", saleToken, domain.Pricing{LogoPrice: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sale set pricing status = %d", rec.Code)
	}
}

func TestLegacyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "sale001", "sale123")

	rec := env.do(t, http.MethodPost, "/api/v1/bills", token, domain.BillRequest{
		Htx: "MINH VY", DriverName: "Lê C", TshirtQty: 3,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue status = %d", rec.Code)
	}
	var resp domain.BillResponse
	decodeBody(t, rec, &resp)

	rec = env.do(t, http.MethodGet, "/api/v1/legacy/tshirts", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("legacy tshirts status = %d", rec.Code)
	}
	var rows []domain.LegacyGoodRow
	decodeBody(t, rec, &rows)
	for _, row := range rows {
		if row.Htx == "MINH VY" && row.Quantity != 97 {
			t.Fatalf("legacy tshirt quantity = %d, want 97", row.Quantity)
		}
	}

	rec = env.do(t, http.MethodGet, "/api/v1/legacy/orders/"+url.PathEscape(resp.OrderID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("legacy order status = %d, body %s", rec.Code, rec.Body.String())
	}
	var order domain.LegacyOrder
	decodeBody(t, rec, &order)
	if order.Driver.Name != "Lê C" {
		t.Fatalf("legacy order driver = %+v", order.Driver)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/legacy/orders/"+url.PathEscape("B-MINH VY-00000000000000-dead"), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing order status = %d", rec.Code)
	}
}

func TestSaleUserAdmin(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.token(t, "admin", "admin123")

	rec := env.do(t, http.MethodPost, "/api/v1/admin/sale-users", adminToken, domain.SaleUserCreateRequest{
		Username:    "sale002",
		Password:    "secret6",
		DisplayName: "Sale 002",
		QRToken:     "sale002-qr-token",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/admin/sale-users", adminToken, domain.SaleUserCreateRequest{
		Username: "sale002",
		Password: "secret6",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate create status = %d", rec.Code)
	}

	inactive := false
	rec = env.do(t, http.MethodPut, "/api/v1/admin/sale-users/sale002", adminToken, domain.SaleUserUpdateRequest{Active: &inactive})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "sale002", Password: "secret6"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("inactive login status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/admin/sale-users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		SaleUsers []domain.UserAccount `json:"sale_users"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.SaleUsers) != 2 {
		t.Fatalf("sale user count = %d, want 2", len(listing.SaleUsers))
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/admin/sale-users/sale002", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/admin/sale-users/sale002", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing status = %d", rec.Code)
	}
}

func TestHTXListEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "sale001", "sale123")

	rec := env.do(t, http.MethodGet, "/api/v1/htx", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		HTXList []string `json:"htx_list"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.HTXList) != len(testHTXList) {
		t.Fatalf("htx list = %v", payload.HTXList)
	}
}

func TestDriverSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "sale001", "sale123")

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/bills", token, domain.BillRequest{
			Htx:        "MINH VY",
			DriverName: fmt.Sprintf("Tài xế %d", i),
			Phone:      fmt.Sprintf("090000000%d", i),
			LogoQty:    1,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("issue %d status = %d", i, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/drivers?phone=0900000001", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var payload struct {
		Drivers []domain.Driver `json:"drivers"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.Drivers) != 1 || payload.Drivers[0].Phone != "0900000001" {
		t.Fatalf("search result = %+v", payload.Drivers)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bills", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "http://127.0.0.1:3000" {
		t.Fatalf("allow-origin = %q", origin)
	}
}
