package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/api"
	"github.com/warp/supply-ledger/store/sqlite"
)

const testSecret = "test-secret"

type testAPI struct {
	t      *testing.T
	store  *sqlite.Store
	router http.Handler
	admin  string
}

type envelope struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data"`
	TotalPages    int             `json:"total_pages"`
	TotalElements int             `json:"total_elements"`
	CurrentPage   int             `json:"current_page"`
	Error         string          `json:"error"`
	Code          string          `json:"code"`
	Details       map[string]any  `json:"details"`
}

func newTestAPI(t *testing.T) *testAPI {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := api.NewHandler(store, nil)
	return &testAPI{
		t:      t,
		store:  store,
		router: api.NewRouter(h, api.RouterOptions{JWTSecret: testSecret}),
		admin:  signToken(t, api.Identity{Role: api.RoleAdmin}),
	}
}

func signToken(t *testing.T, id api.Identity) string {
	t.Helper()
	token, err := api.SignToken(testSecret, id, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func data[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

func (a *testAPI) product(name, code, price string, qty int64) api.ProductDTO {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/api/products", a.admin, map[string]any{
		"name": name, "code": code, "unit": "box", "unit_price": price, "initial_quantity": qty,
	})
	require.Equal(a.t, http.StatusCreated, status, env.Error)
	return data[api.ProductDTO](a.t, env)
}

// pharmacy creates a branch and returns it with a token scoped to it.
func (a *testAPI) pharmacy(name string) (api.PharmacyDTO, string) {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/api/pharmacies", a.admin, map[string]any{"name": name})
	require.Equal(a.t, http.StatusCreated, status, env.Error)
	ph := data[api.PharmacyDTO](a.t, env)
	return ph, signToken(a.t, api.Identity{Role: api.RolePharmacy, PharmacyID: ph.ID})
}

func (a *testAPI) order(token string, items ...map[string]any) (int, envelope) {
	a.t.Helper()
	return a.do(http.MethodPost, "/api/orders", token, map[string]any{"items": items})
}

func line(productID, qty int64) map[string]any {
	return map[string]any{"product_id": productID, "quantity": qty}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// AUTH
// =============================================================================

func TestHealthz_NoAuth(t *testing.T) {
	a := newTestAPI(t)

	status, env := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	a := newTestAPI(t)

	expired, err := api.SignToken(testSecret, api.Identity{Role: api.RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := api.SignToken("other-secret", api.Identity{Role: api.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	noPharmacy := signToken(t, api.Identity{Role: api.RolePharmacy})
	unknownRole := signToken(t, api.Identity{Role: "auditor"})

	for name, token := range map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"no pharmacy":  noPharmacy,
		"unknown role": unknownRole,
	} {
		status, env := a.do(http.MethodGet, "/api/orders", token, nil)
		assert.Equal(t, http.StatusUnauthorized, status, name)
		assert.False(t, env.Success, name)
		assert.Equal(t, "UNAUTHORIZED", env.Code, name)
	}
}

func TestAuth_AdminOnlyRoutes(t *testing.T) {
	a := newTestAPI(t)
	ph, token := a.pharmacy("Branch")

	status, env := a.do(http.MethodPost, "/api/products", token, map[string]any{"name": "X", "code": "X", "unit_price": "1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Code)

	status, _ = a.do(http.MethodPost, fmt.Sprintf("/api/credit/settlement/%d", ph.ID), token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(http.MethodGet, "/api/stock-txs", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

// =============================================================================
// ORDERS
// =============================================================================

func TestCreateOrder_DeductsStockAndChargesBalance(t *testing.T) {
	// GIVEN: 10 boxes at 100 and a pharmacy with no balance
	// WHEN: The pharmacy orders 3 through the API
	// THEN: 201 with total 300, stock 7, balance 300 and one ORDER entry

	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "100", 10)
	ph, token := a.pharmacy("Green Cross")

	status, env := a.order(token, line(p.ID, 3))
	require.Equal(t, http.StatusCreated, status, env.Error)
	o := data[api.OrderDTO](t, env)
	assert.Equal(t, ph.ID, o.PharmacyID)
	assert.Equal(t, "REQUESTED", o.Status)
	assertMoney(t, "300", o.TotalPrice)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Aspirin", o.Items[0].ProductName)
	assert.Equal(t, int64(3), o.Items[0].ReturnableQuantity)

	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), token, nil)
	assert.Equal(t, int64(7), data[api.ProductDTO](t, env).Quantity)

	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/pharmacies/%d", ph.ID), token, nil)
	assertMoney(t, "300", data[api.PharmacyDTO](t, env).Balance)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/pharmacies/%d/balance-txs", ph.ID), token, nil)
	require.Equal(t, http.StatusOK, status)
	txs := data[[]api.BalanceTxDTO](t, env)
	require.Len(t, txs, 1)
	assert.Equal(t, "ORDER", txs[0].Type)
	assert.Equal(t, "order", txs[0].RefType)
	assert.Equal(t, o.ID, txs[0].RefID)
	assertMoney(t, "0", txs[0].BalanceBefore)
	assertMoney(t, "300", txs[0].BalanceAfter)
}

func TestCreateOrder_InsufficientStockIs409WithDetails(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Bandage", "BND", "10", 2)
	_, token := a.pharmacy("Short")

	status, env := a.order(token, line(p.ID, 5))

	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, env.Success)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Code)
	assert.Equal(t, float64(p.ID), env.Details["product_id"])
	assert.Equal(t, float64(2), env.Details["available"])
	assert.Equal(t, float64(5), env.Details["requested"])
}

func TestCreateOrder_CreditLimitIs409(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Scanner", "SCN", "5000001", 3)
	_, token := a.pharmacy("Spender")

	status, env := a.order(token, line(p.ID, 2))

	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CREDIT_LIMIT_EXCEEDED", env.Code)
	assert.Equal(t, "10000000", env.Details["limit"])

	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), a.admin, nil)
	assert.Equal(t, int64(3), data[api.ProductDTO](t, env).Quantity)
}

func TestCreateOrder_Validation(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Gauze", "GZ", "1", 5)
	_, token := a.pharmacy("Strict")

	status, env := a.do(http.MethodPost, "/api/orders", token, map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Code)
	assert.Equal(t, "min", env.Details["items"])

	status, env = a.order(token, line(p.ID, 0))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "required", env.Details["items[0].quantity"])

	status, env = a.order(token, line(p.ID, 1), line(p.ID, 1<<62))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "lte", env.Details["items[1].quantity"])

	status, env = a.do(http.MethodPost, "/api/orders", token, map[string]any{"items": []any{line(p.ID, 1)}, "coupon": "FREE"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Code)

	// Admins must say which pharmacy they order for.
	status, env = a.order(a.admin, line(p.ID, 1))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "required", env.Details["pharmacy_id"])
}

func TestCreateOrder_PharmacyCannotOrderForAnother(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Gauze", "GZ", "1", 5)
	_, token := a.pharmacy("Mine")
	other, _ := a.pharmacy("Theirs")

	status, env := a.do(http.MethodPost, "/api/orders", token, map[string]any{
		"pharmacy_id": other.ID,
		"items":       []any{line(p.ID, 1)},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Code)
}

func TestGetOrder_OtherPharmacyIs403(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Gauze", "GZ", "1", 5)
	_, owner := a.pharmacy("Owner")
	other, stranger := a.pharmacy("Stranger")

	_, env := a.order(owner, line(p.ID, 1))
	o := data[api.OrderDTO](t, env)

	status, _ := a.do(http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), stranger, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = a.do(http.MethodGet, fmt.Sprintf("/api/pharmacies/%d", o.PharmacyID), stranger, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = a.do(http.MethodGet, fmt.Sprintf("/api/pharmacies/%d", other.ID), stranger, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), a.admin, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = a.do(http.MethodGet, "/api/orders/9999", a.admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ORDER_NOT_FOUND", env.Code)

	status, _ = a.do(http.MethodGet, "/api/orders/abc", a.admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateOrderStatus_PharmacyMayOnlyCancel(t *testing.T) {
	// GIVEN: A pharmacy's fresh order of 4
	// WHEN: The pharmacy tries to approve it, then cancels it
	// THEN: 403 for approve; cancel restores stock and balance

	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "25", 10)
	ph, token := a.pharmacy("Canceller")
	_, env := a.order(token, line(p.ID, 4))
	o := data[api.OrderDTO](t, env)
	path := fmt.Sprintf("/api/orders/%d/status", o.ID)

	status, env := a.do(http.MethodPatch, path, token, map[string]any{"status": "APPROVED"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = a.do(http.MethodPatch, path, token, map[string]any{"status": "SHIPPED"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_STATUS", env.Code)

	status, env = a.do(http.MethodPatch, path, token, map[string]any{"status": "CANCELED"})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, "CANCELED", data[api.OrderDTO](t, env).Status)

	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), token, nil)
	assert.Equal(t, int64(10), data[api.ProductDTO](t, env).Quantity)
	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/pharmacies/%d", ph.ID), token, nil)
	assertMoney(t, "0", data[api.PharmacyDTO](t, env).Balance)

	status, env = a.do(http.MethodPatch, path, a.admin, map[string]any{"status": "CANCELED"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ORDER_ALREADY_FINALIZED", env.Code)
}

func TestUpdateOrderStatus_AdminWalksLifecycle(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "25", 10)
	_, token := a.pharmacy("Walker")
	_, env := a.order(token, line(p.ID, 1))
	o := data[api.OrderDTO](t, env)
	path := fmt.Sprintf("/api/orders/%d/status", o.ID)

	status, env := a.do(http.MethodPatch, path, a.admin, map[string]any{"status": "SHIPPING"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	for _, s := range []string{"APPROVED", "PREPARING", "SHIPPING", "COMPLETED"} {
		status, env = a.do(http.MethodPatch, path, a.admin, map[string]any{"status": s})
		require.Equal(t, http.StatusOK, status, "%s: %s", s, env.Error)
		assert.Equal(t, s, data[api.OrderDTO](t, env).Status)
	}
}

func TestDeleteOrder(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "25", 10)
	_, token := a.pharmacy("Deleter")
	_, env := a.order(token, line(p.ID, 2))
	o := data[api.OrderDTO](t, env)
	path := fmt.Sprintf("/api/orders/%d", o.ID)

	status, _ := a.do(http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(http.MethodDelete, path, a.admin, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(http.MethodGet, path, a.admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Deletion does not touch the ledgers.
	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), a.admin, nil)
	assert.Equal(t, int64(8), data[api.ProductDTO](t, env).Quantity)
}

func TestListOrders_ScopedAndPaged(t *testing.T) {
	// GIVEN: Three orders from one pharmacy, one from another
	// WHEN: The first pharmacy lists with size=2
	// THEN: Only its three orders count; page metadata and summaries are filled

	a := newTestAPI(t)
	asp := a.product("Aspirin", "ASP", "10", 100)
	gz := a.product("Gauze", "GZ", "5", 100)
	_, mine := a.pharmacy("Mine")
	_, theirs := a.pharmacy("Theirs")

	for i := 0; i < 3; i++ {
		status, env := a.order(mine, line(asp.ID, 1), line(gz.ID, 2))
		require.Equal(t, http.StatusCreated, status, env.Error)
	}
	status, env := a.order(theirs, line(asp.ID, 1))
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = a.do(http.MethodGet, "/api/orders?size=2", mine, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, 3, env.TotalElements)
	assert.Equal(t, 2, env.TotalPages)
	assert.Equal(t, 0, env.CurrentPage)
	rows := data[[]api.OrderSummaryDTO](t, env)
	require.Len(t, rows, 2)
	assert.Equal(t, "Aspirin +1", rows[0].ItemSummary)
	assertMoney(t, "20", rows[0].TotalPrice)

	_, env = a.do(http.MethodGet, "/api/orders?size=2&page=1", mine, nil)
	assert.Len(t, data[[]api.OrderSummaryDTO](t, env), 1)

	_, env = a.do(http.MethodGet, "/api/orders", a.admin, nil)
	assert.Equal(t, 4, env.TotalElements)

	_, env = a.do(http.MethodGet, "/api/orders?status=CANCELED", a.admin, nil)
	assert.Equal(t, 0, env.TotalElements)

	status, _ = a.do(http.MethodGet, "/api/orders?from=yesterday", a.admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// RETURNS
// =============================================================================

func TestReturns_OverReturnIs409AndCompleteCredits(t *testing.T) {
	// GIVEN: A completed order of 5 at 100
	// WHEN: The pharmacy returns 2, then tries 4 more
	// THEN: 201 then 409 with remaining 3; completing the first credits 200

	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "100", 10)
	ph, token := a.pharmacy("Returner")
	_, env := a.order(token, line(p.ID, 5))
	o := data[api.OrderDTO](t, env)
	for _, s := range []string{"APPROVED", "PREPARING", "SHIPPING", "COMPLETED"} {
		status, env := a.do(http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", o.ID), a.admin, map[string]any{"status": s})
		require.Equal(t, http.StatusOK, status, env.Error)
	}

	status, env := a.do(http.MethodPost, "/api/returns", token, map[string]any{
		"order_id": o.ID, "reason": "damaged", "items": []any{line(p.ID, 2)},
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	ret := data[api.ReturnDTO](t, env)
	assert.Equal(t, "REQUESTED", ret.Status)
	assertMoney(t, "200", ret.TotalPrice)

	status, env = a.do(http.MethodPost, "/api/returns", token, map[string]any{
		"order_id": o.ID, "items": []any{line(p.ID, 4)},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RETURN_QUANTITY_EXCEEDED", env.Code)
	assert.Equal(t, float64(3), env.Details["remaining"])

	status, env = a.do(http.MethodPatch, fmt.Sprintf("/api/returns/%d/status", ret.ID), token, map[string]any{"status": "APPROVED"})
	assert.Equal(t, http.StatusForbidden, status)

	for _, s := range []string{"APPROVED", "RECEIVED", "COMPLETED"} {
		status, env = a.do(http.MethodPatch, fmt.Sprintf("/api/returns/%d/status", ret.ID), a.admin, map[string]any{"status": s})
		require.Equal(t, http.StatusOK, status, "%s: %s", s, env.Error)
	}

	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/pharmacies/%d", ph.ID), token, nil)
	assertMoney(t, "300", data[api.PharmacyDTO](t, env).Balance)
	_, env = a.do(http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), token, nil)
	assert.Equal(t, int64(7), data[api.ProductDTO](t, env).Quantity)

	_, env = a.do(http.MethodGet, "/api/returns", token, nil)
	rows := data[[]api.ReturnSummaryDTO](t, env)
	require.Len(t, rows, 1)
	assert.Equal(t, "Aspirin", rows[0].ItemSummary)
	assert.Equal(t, "COMPLETED", rows[0].Status)
}

func TestReturns_ForeignOrderAndUnknownProduct(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "100", 10)
	other := a.product("Gauze", "GZ", "1", 10)
	_, owner := a.pharmacy("Owner")
	_, stranger := a.pharmacy("Stranger")
	_, env := a.order(owner, line(p.ID, 2))
	o := data[api.OrderDTO](t, env)

	status, env := a.do(http.MethodPost, "/api/returns", stranger, map[string]any{
		"order_id": o.ID, "items": []any{line(p.ID, 1)},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ORDER_NOT_OWNED", env.Code)

	status, env = a.do(http.MethodPost, "/api/returns", owner, map[string]any{
		"order_id": o.ID, "items": []any{line(other.ID, 1)},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "PRODUCT_NOT_IN_ORDER", env.Code)
}

// =============================================================================
// LEDGERS AND SETTLEMENT
// =============================================================================

func TestStockIn_AndHistory(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "100", 10)

	status, env := a.do(http.MethodPost, "/api/stock-txs/in", a.admin, map[string]any{"product_id": p.ID, "quantity": 5})
	require.Equal(t, http.StatusCreated, status, env.Error)
	tx := data[api.StockTxDTO](t, env)
	assert.Equal(t, "IN", tx.Type)
	assert.Equal(t, int64(10), tx.QuantityBefore)
	assert.Equal(t, int64(15), tx.QuantityAfter)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/stock-txs?product_id=%d&type=IN", p.ID), a.admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, 2, env.TotalElements)

	status, env = a.do(http.MethodGet, "/api/stock-txs?type=TELEPORT", a.admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_TX_TYPE", env.Code)

	status, env = a.do(http.MethodPost, "/api/stock-txs/in", a.admin, map[string]any{"product_id": 9999, "quantity": 5})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PRODUCT_NOT_FOUND", env.Code)
}

func TestCreateProduct_DuplicateCodeIs409(t *testing.T) {
	a := newTestAPI(t)
	a.product("Aspirin", "ASP", "100", 0)

	status, env := a.do(http.MethodPost, "/api/products", a.admin, map[string]any{
		"name": "Aspirin again", "code": "ASP", "unit_price": "1",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_CODE", env.Code)

	status, env = a.do(http.MethodPost, "/api/products", a.admin, map[string]any{
		"name": "Fractional", "code": "FR", "unit_price": "0.001",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_AMOUNT", env.Code)
}

func TestSettlement_ViaAPI(t *testing.T) {
	// GIVEN: A pharmacy owing 750
	// WHEN: HQ settles twice
	// THEN: First SETTLEMENT 750 -> 0, second 409; pending list empties

	a := newTestAPI(t)
	p := a.product("Gauze", "GZ", "250", 3)
	ph, token := a.pharmacy("Payer")
	status, env := a.order(token, line(p.ID, 3))
	require.Equal(t, http.StatusCreated, status, env.Error)

	_, env = a.do(http.MethodGet, "/api/credit/pending", a.admin, nil)
	pending := data[[]api.PendingCreditDTO](t, env)
	require.Len(t, pending, 1)
	assert.Equal(t, ph.ID, pending[0].PharmacyID)
	assertMoney(t, "750", pending[0].Balance)
	assert.Nil(t, pending[0].LastSettledAt)

	path := fmt.Sprintf("/api/credit/settlement/%d", ph.ID)
	status, env = a.do(http.MethodPost, path, a.admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	tx := data[api.BalanceTxDTO](t, env)
	assert.Equal(t, "SETTLEMENT", tx.Type)
	assertMoney(t, "750", tx.Amount)
	assertMoney(t, "0", tx.BalanceAfter)

	status, env = a.do(http.MethodPost, path, a.admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOTHING_TO_SETTLE", env.Code)

	_, env = a.do(http.MethodGet, "/api/credit/pending", a.admin, nil)
	assert.Equal(t, 0, env.TotalElements)

	status, env = a.do(http.MethodPost, "/api/credit/settlement/9999", a.admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PHARMACY_NOT_FOUND", env.Code)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAuditScheduler_RunNowRecordsRun(t *testing.T) {
	a := newTestAPI(t)
	p := a.product("Aspirin", "ASP", "100", 10)
	_, token := a.pharmacy("Audited")
	a.order(token, line(p.ID, 1))

	run, err := api.NewAuditScheduler(a.store, nil).RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, run.Clean(), "drifts: %+v", run.Drifts)

	status, env := a.do(http.MethodGet, "/api/audit/runs", a.admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	runs := data[[]api.AuditRunDTO](t, env)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.True(t, runs[0].Clean)
	assert.Equal(t, 1, runs[0].ProductsChecked)
	assert.Equal(t, 1, runs[0].PharmaciesChecked)
	assert.Empty(t, runs[0].Drifts)

	status, env = a.do(http.MethodPost, "/api/audit/runs", a.admin, nil)
	require.Equal(t, http.StatusCreated, status, env.Error)
	status, _ = a.do(http.MethodGet, "/api/audit/runs", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAuditScheduler_StartStop(t *testing.T) {
	a := newTestAPI(t)
	a.product("Aspirin", "ASP", "100", 10)

	s := api.NewAuditScheduler(a.store, nil)
	s.Interval = 10 * time.Millisecond
	s.Start()
	require.Eventually(t, func() bool {
		runs, err := a.store.ListAuditRuns(context.Background(), 10)
		return err == nil && len(runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	disabled := api.NewAuditScheduler(a.store, nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
