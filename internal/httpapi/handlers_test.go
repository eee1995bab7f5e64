package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"botikapos/backend/internal/cart"
	"botikapos/backend/internal/domain"
	"botikapos/backend/internal/notify"
	"botikapos/backend/internal/service"
	"botikapos/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo := memory.NewEmpty()
	ctx := context.Background()

	if _, err := repo.CreateProduct(ctx, domain.Product{
		ID:             "prod-paracetamol",
		Name:           "Paracetamol 500mg",
		Category:       "analgesic",
		PricePerPiece:  dec("5.00"),
		PiecesPerSheet: 10,
		SheetsPerBox:   10,
		StockInPieces:  100,
		ReorderLevel:   20,
		Active:         true,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	for _, user := range []domain.UserAccount{
		{Username: "admin", Password: "admin-secret", Role: "admin", Active: true, CreatedAt: time.Now().UTC()},
		{Username: "cashier1", Password: "cashier-secret", Role: "cashier", Active: true, CreatedAt: time.Now().UTC()},
	} {
		if err := repo.CreateUser(ctx, user); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	carts := cart.NewManager(repo, cart.NewMemoryStore())
	svc := service.New(repo, carts, notify.NopNotifier{}, service.Options{
		EditWindow:   24 * time.Hour,
		MinReasonLen: 10,
	})
	api := New(svc, NewAuthManager("test-secret", time.Hour, repo), "")

	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, server *httptest.Server, method string, path string, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

func login(t *testing.T, server *httptest.Server, username string, password string) string {
	t.Helper()

	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if status != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, status, raw)
	}

	var resp domain.LoginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("login %s returned empty token", username)
	}
	return resp.AccessToken
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server := newTestServer(t)

	status, _ := doJSON(t, server, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "cashier1",
		Password: "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(t)

	status, _ := doJSON(t, server, http.MethodGet, "/api/v1/products", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	status, _ = doJSON(t, server, http.MethodGet, "/api/v1/products", "not-a-real-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", status)
	}
}

func TestCheckoutFlow(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server, "cashier1", "cashier-secret")

	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/carts", token, domain.CartCreateRequest{TerminalID: "till-1"})
	if status != http.StatusCreated {
		t.Fatalf("create cart: status %d body %s", status, raw)
	}
	var created domain.Cart
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode cart: %v", err)
	}

	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/carts/"+created.ID+"/items", token, domain.CartLineRequest{
		ProductID: "prod-paracetamol",
		Quantity:  3,
		Unit:      domain.UnitSheet,
	})
	if status != http.StatusCreated {
		t.Fatalf("add item: status %d body %s", status, raw)
	}

	commit := domain.CommitRequest{
		CartID:         created.ID,
		IdempotencyKey: "idem-http-1",
		PaymentMethod:  "cash",
		AmountPaid:     dec("150.00"),
		Discount:       domain.DiscountSelection{Type: domain.DiscountSenior, IDNumber: "SC-001"},
	}
	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/checkout", token, commit)
	if status != http.StatusCreated {
		t.Fatalf("checkout: status %d body %s", status, raw)
	}
	var resp domain.CommitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode commit response: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("first commit flagged duplicate")
	}
	if !resp.Transaction.TotalAmount.Equal(dec("120.00")) {
		t.Fatalf("expected total 120.00, got %s", resp.Transaction.TotalAmount)
	}

	// A retried checkout under the same key returns the original.
	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/checkout", token, commit)
	if status != http.StatusOK {
		t.Fatalf("duplicate checkout: status %d body %s", status, raw)
	}
	var replay domain.CommitResponse
	if err := json.Unmarshal(raw, &replay); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if !replay.Duplicate || replay.Transaction.ID != resp.Transaction.ID {
		t.Fatalf("replay did not return original transaction: %s", raw)
	}

	status, raw = doJSON(t, server, http.MethodGet, "/api/v1/checkout/idempotency/idem-http-1", token, nil)
	if status != http.StatusOK {
		t.Fatalf("idempotency lookup: status %d body %s", status, raw)
	}
}

func TestReceiptRendersAsText(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server, "cashier1", "cashier-secret")
	txID := commitSale(t, server, token, "idem-receipt-1")

	status, raw := doJSON(t, server, http.MethodGet, "/api/v1/transactions/"+txID+"/receipt?format=text", token, nil)
	if status != http.StatusOK {
		t.Fatalf("receipt: status %d body %s", status, raw)
	}
	text := string(raw)
	for _, want := range []string{"Paracetamol 500mg", "TOTAL", "THANK YOU"} {
		if !strings.Contains(text, want) {
			t.Fatalf("receipt missing %q:\n%s", want, text)
		}
	}
}

func TestEditAndCancelOverHTTP(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server, "cashier1", "cashier-secret")
	txID := commitSale(t, server, token, "idem-edit-1")

	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/transactions/"+txID+"/edit", token, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 2, Unit: domain.UnitSheet}},
		Reason: "short",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for short reason, got %d body %s", status, raw)
	}

	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/transactions/"+txID+"/edit", token, domain.EditRequest{
		Items:  []domain.CartLineRequest{{ProductID: "prod-paracetamol", Quantity: 2, Unit: domain.UnitSheet}},
		Reason: "customer returned one sheet",
	})
	if status != http.StatusOK {
		t.Fatalf("edit: status %d body %s", status, raw)
	}
	var edited domain.Transaction
	if err := json.Unmarshal(raw, &edited); err != nil {
		t.Fatalf("decode edited transaction: %v", err)
	}
	if !edited.IsEdited {
		t.Fatalf("edited transaction not flagged")
	}

	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/transactions/"+txID+"/cancel", token, domain.CancelRequest{
		Reason: "duplicate entry at terminal",
	})
	if status != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", status, raw)
	}

	// A cancelled transaction is final.
	status, _ = doJSON(t, server, http.MethodPost, "/api/v1/transactions/"+txID+"/cancel", token, domain.CancelRequest{
		Reason: "cancelling a second time",
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for double cancel, got %d", status)
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	server := newTestServer(t)
	cashierToken := login(t, server, "cashier1", "cashier-secret")
	adminToken := login(t, server, "admin", "admin-secret")

	status, _ := doJSON(t, server, http.MethodGet, "/api/v1/reports/sales", cashierToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on sales report, got %d", status)
	}
	status, _ = doJSON(t, server, http.MethodGet, "/api/v1/reports/sales", adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 for admin on sales report, got %d", status)
	}

	status, _ = doJSON(t, server, http.MethodPost, "/api/v1/products", cashierToken, domain.ProductCreateRequest{
		Name:          "Cetirizine 10mg",
		Category:      "antihistamine",
		PricePerPiece: dec("8.00"),
	})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier creating product, got %d", status)
	}
	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/products", adminToken, domain.ProductCreateRequest{
		Name:          "Cetirizine 10mg",
		Category:      "antihistamine",
		PricePerPiece: dec("8.00"),
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201 for admin creating product, got %d body %s", status, raw)
	}
}

func TestCashierManagement(t *testing.T) {
	server := newTestServer(t)
	adminToken := login(t, server, "admin", "admin-secret")

	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{
		Username: "newcashier",
		Password: "longenough",
	})
	if status != http.StatusCreated {
		t.Fatalf("create cashier: status %d body %s", status, raw)
	}

	status, _ = doJSON(t, server, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{
		Username: "ab",
		Password: "longenough",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for short username, got %d", status)
	}

	// The new account can log in straight away.
	login(t, server, "newcashier", "longenough")
}

func TestUnknownProductFilterRejected(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server, "cashier1", "cashier-secret")

	status, _ := doJSON(t, server, http.MethodGet, "/api/v1/products?filter=bogus", token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", status)
	}
}

func TestInsufficientStockConflictPayload(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server, "cashier1", "cashier-secret")

	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/carts", token, domain.CartCreateRequest{TerminalID: "till-1"})
	if status != http.StatusCreated {
		t.Fatalf("create cart: status %d body %s", status, raw)
	}
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("decode cart: %v", err)
	}

	// Stock is 100 pieces; 20 sheets is 200.
	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/carts/"+c.ID+"/items", token, domain.CartLineRequest{
		ProductID: "prod-paracetamol",
		Quantity:  20,
		Unit:      domain.UnitSheet,
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for oversell, got %d body %s", status, raw)
	}
	var payload struct {
		ProductID string `json:"product_id"`
		Requested int    `json:"requested"`
		Available int    `json:"available"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode conflict payload: %v", err)
	}
	if payload.ProductID != "prod-paracetamol" || payload.Requested != 200 || payload.Available != 100 {
		t.Fatalf("unexpected conflict payload: %s", raw)
	}
}

// commitSale runs the cart-to-checkout flow and returns the transaction id.
func commitSale(t *testing.T, server *httptest.Server, token string, idemKey string) string {
	t.Helper()

	status, raw := doJSON(t, server, http.MethodPost, "/api/v1/carts", token, domain.CartCreateRequest{TerminalID: "till-1"})
	if status != http.StatusCreated {
		t.Fatalf("create cart: status %d body %s", status, raw)
	}
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("decode cart: %v", err)
	}

	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/carts/"+c.ID+"/items", token, domain.CartLineRequest{
		ProductID: "prod-paracetamol",
		Quantity:  3,
		Unit:      domain.UnitSheet,
	})
	if status != http.StatusCreated {
		t.Fatalf("add item: status %d body %s", status, raw)
	}

	status, raw = doJSON(t, server, http.MethodPost, "/api/v1/checkout", token, domain.CommitRequest{
		CartID:         c.ID,
		IdempotencyKey: idemKey,
		PaymentMethod:  "cash",
		AmountPaid:     dec("200.00"),
	})
	if status != http.StatusCreated {
		t.Fatalf("checkout: status %d body %s", status, raw)
	}
	var resp domain.CommitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode commit response: %v", err)
	}
	return resp.Transaction.ID
}
