package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-flashsale-orders/internal/checkout"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type stubOrders struct {
	mu       sync.Mutex
	place    func(in checkout.PlaceOrderInput) (orders.OrderDetail, error)
	lastIn   checkout.PlaceOrderInput
	getErr   error
	lastUser string
}

func (s *stubOrders) PlaceOrder(_ context.Context, in checkout.PlaceOrderInput) (orders.OrderDetail, error) {
	s.mu.Lock()
	s.lastIn = in
	s.mu.Unlock()
	return s.place(in)
}

func (s *stubOrders) last() (checkout.PlaceOrderInput, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIn, s.lastUser
}

func (s *stubOrders) failGet(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

func (s *stubOrders) GetOrder(_ context.Context, id, userID string) (orders.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUser = userID
	if s.getErr != nil {
		return orders.OrderDetail{}, s.getErr
	}
	return orders.OrderDetail{Order: orders.Order{ID: id, UserID: userID, Status: orders.StatusPending}}, nil
}

func (s *stubOrders) ListOrders(_ context.Context, userID string, p orders.Page) (orders.OrderList, error) {
	s.mu.Lock()
	s.lastUser = userID
	s.mu.Unlock()
	p = p.Normalize()
	return orders.OrderList{Orders: []orders.Order{}, Page: p.Page, PageSize: p.PageSize}, nil
}

func (s *stubOrders) OrderStatus(_ context.Context, id string) (orders.Status, error) {
	return orders.StatusPaid, nil
}

func (s *stubOrders) CancelOrder(_ context.Context, id, userID string) (orders.OrderDetail, error) {
	return orders.OrderDetail{}, fmt.Errorf("%w: order %s is PAID", orders.ErrInvalidTransition, id)
}

func (s *stubOrders) ConfirmPayment(_ context.Context, id, ref string) (orders.OrderDetail, error) {
	return orders.OrderDetail{Order: orders.Order{ID: id, Status: orders.StatusPaid, PaymentRef: ref}}, nil
}

func (s *stubOrders) QuoteCoupon(_ context.Context, userID, code string, _ []orders.ItemInput, subtotal decimal.Decimal) (checkout.CouponQuote, error) {
	if code != "TEN" {
		return checkout.CouponQuote{}, coupons.ErrCouponNotFound
	}
	disc := subtotal.Div(decimal.NewFromInt(10))
	return checkout.CouponQuote{Subtotal: subtotal, Discount: disc, Total: subtotal.Sub(disc)}, nil
}

func newOrdersServer(t *testing.T, svc OrderService) *httptest.Server {
	t.Helper()
	r := NewRouter(zerolog.Nop())
	(&OrdersHandler{Orders: svc}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPlaceOrderCreated(t *testing.T) {
	svc := &stubOrders{place: func(in checkout.PlaceOrderInput) (orders.OrderDetail, error) {
		return orders.OrderDetail{Order: orders.Order{ID: "o-1", UserID: in.UserID, Status: orders.StatusPending}}, nil
	}}
	srv := newOrdersServer(t, svc)

	resp, body := do(t, http.MethodPost, srv.URL+"/orders",
		`{"user_id":"body-user","items":[{"product_id":"p1","quantity":2}]}`,
		map[string]string{"X-User-ID": "u1", "Idempotency-Key": "k-1"})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "o-1", body["id"])
	in, _ := svc.last()
	assert.Equal(t, "u1", in.UserID, "header wins over body")
	assert.Equal(t, "k-1", in.IdempotencyKey)
	require.Len(t, in.Items, 1)
	assert.Equal(t, 2, in.Items[0].Quantity)
}

func TestPlaceOrderReplayIsOK(t *testing.T) {
	svc := &stubOrders{place: func(in checkout.PlaceOrderInput) (orders.OrderDetail, error) {
		return orders.OrderDetail{Order: orders.Order{ID: "o-1"}, Idempotent: true}, nil
	}}
	srv := newOrdersServer(t, svc)

	resp, body := do(t, http.MethodPost, srv.URL+"/orders", `{"user_id":"u1","items":[],"external_id":"k"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["idempotent"])
}

func TestPlaceOrderInsufficientStockBody(t *testing.T) {
	svc := &stubOrders{place: func(checkout.PlaceOrderInput) (orders.OrderDetail, error) {
		return orders.OrderDetail{}, &checkout.PartialFailureError{Items: []checkout.ItemOutcome{
			{ProductID: "a", RequestedQuantity: 1, AvailableQuantity: 5, Status: checkout.ItemReserved},
			{ProductID: "b", RequestedQuantity: 3, AvailableQuantity: 0, Status: checkout.ItemSoldOut},
		}}
	}}
	srv := newOrdersServer(t, svc)

	resp, body := do(t, http.MethodPost, srv.URL+"/orders", `{"user_id":"u1","items":[{"product_id":"a","quantity":1}]}`, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	e := body["error"].(map[string]any)
	assert.Equal(t, "INSUFFICIENT_STOCK", e["code"])
	items := e["details"].(map[string]any)["items"].([]any)
	require.Len(t, items, 2)
	b := items[1].(map[string]any)
	assert.Equal(t, "b", b["product_id"])
	assert.Equal(t, float64(3), b["requested_quantity"])
	assert.Equal(t, float64(0), b["available_quantity"])
	assert.Equal(t, "sold_out", b["status"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: cart is empty", checkout.ErrInvalidRequest), http.StatusBadRequest, "INVALID_REQUEST"},
		{"min purchase", coupons.ErrMinimumPurchaseNotMet, http.StatusBadRequest, "MINIMUM_PURCHASE_NOT_MET"},
		{"unknown product", fmt.Errorf("%w: p9", orders.ErrProductNotFound), http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{"unknown coupon", coupons.ErrCouponNotFound, http.StatusNotFound, "COUPON_NOT_FOUND"},
		{"expired coupon", coupons.ErrCouponExpired, http.StatusConflict, "COUPON_EXPIRED"},
		{"exhausted", coupons.ErrCouponExhausted, http.StatusConflict, "COUPON_EXHAUSTED"},
		{"redeemed", coupons.ErrAlreadyRedeemed, http.StatusConflict, "COUPON_ALREADY_REDEEMED"},
		{"idempotency", checkout.ErrIdempotencyConflict, http.StatusConflict, "IDEMPOTENCY_CONFLICT"},
		{"rate limited", checkout.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"internal", errors.New("pgx: connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubOrders{place: func(checkout.PlaceOrderInput) (orders.OrderDetail, error) { return orders.OrderDetail{}, tt.err }}
			srv := newOrdersServer(t, svc)

			resp, body := do(t, http.MethodPost, srv.URL+"/orders", `{"user_id":"u1"}`, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			e := body["error"].(map[string]any)
			assert.Equal(t, tt.code, e["code"])
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", e["message"], "internal details stay hidden")
			}
		})
	}
}

type skuTable map[string]string

func (s skuTable) ProductIDsBySKU(_ context.Context, skus []string) (map[string]string, error) {
	out := map[string]string{}
	for _, sku := range skus {
		if id, ok := s[sku]; ok {
			out[sku] = id
		}
	}
	return out, nil
}

func TestPlaceOrderBySKU(t *testing.T) {
	svc := &stubOrders{place: func(in checkout.PlaceOrderInput) (orders.OrderDetail, error) {
		return orders.OrderDetail{Order: orders.Order{ID: "o-1", UserID: in.UserID, Status: orders.StatusPending}}, nil
	}}
	r := NewRouter(zerolog.Nop())
	(&OrdersHandler{Orders: svc, SKUs: skuTable{"SKU-A": "p1", "SKU-B": "p2"}}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, body := do(t, http.MethodPost, srv.URL+"/orders/sku",
		`{"user_id":"u1","external_id":"ext-1","coupon_code":"TEN","items":[{"sku":"SKU-B","quantity":1},{"sku":"SKU-A","quantity":2}]}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "o-1", body["id"])

	in, _ := svc.last()
	assert.Equal(t, "u1", in.UserID)
	assert.Equal(t, "ext-1", in.IdempotencyKey)
	assert.Equal(t, "TEN", in.CouponCode)
	assert.Equal(t, []orders.ItemInput{{ProductID: "p2", Quantity: 1}, {ProductID: "p1", Quantity: 2}}, in.Items)

	resp, body = do(t, http.MethodPost, srv.URL+"/orders/sku",
		`{"user_id":"u1","items":[{"sku":"SKU-A","quantity":1},{"sku":"NOPE","quantity":1}]}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "PRODUCT_NOT_FOUND", body["error"].(map[string]any)["code"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/orders/sku", `{"user_id":"u1","items":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSKURouteNeedsResolver(t *testing.T) {
	srv := newOrdersServer(t, &stubOrders{})
	resp, _ := do(t, http.MethodPost, srv.URL+"/orders/sku", `{"user_id":"u1","items":[{"sku":"SKU-A","quantity":1}]}`, nil)
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestPlaceOrderBadJSON(t *testing.T) {
	srv := newOrdersServer(t, &stubOrders{})
	resp, body := do(t, http.MethodPost, srv.URL+"/orders", `{"items":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", body["error"].(map[string]any)["code"])
}

func TestGetOrderNeedsUser(t *testing.T) {
	svc := &stubOrders{}
	srv := newOrdersServer(t, svc)

	resp, _ := do(t, http.MethodGet, srv.URL+"/orders/o-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/orders/o-1", "", map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "o-1", body["id"])
	_, user := svc.last()
	assert.Equal(t, "u1", user)

	svc.failGet(orders.ErrOrderNotFound)
	resp, body = do(t, http.MethodGet, srv.URL+"/orders/o-2", "", map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ORDER_NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	srv := newOrdersServer(t, &stubOrders{})
	u := map[string]string{"X-User-ID": "u1"}

	resp, body := do(t, http.MethodGet, srv.URL+"/orders/o-1/status", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PAID", body["status"])

	resp, body = do(t, http.MethodPost, srv.URL+"/orders/o-1/cancel", "", u)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", body["error"].(map[string]any)["code"])

	resp, body = do(t, http.MethodPost, srv.URL+"/orders/o-1/payment", `{"payment_ref":"pay-1"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pay-1", body["payment_ref"])

	resp, body = do(t, http.MethodGet, srv.URL+"/orders?page=2&page_size=500", "", u)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, float64(orders.MaxPageSize), body["page_size"])
}

func TestValidateCoupon(t *testing.T) {
	srv := newOrdersServer(t, &stubOrders{})
	u := map[string]string{"X-User-ID": "u1"}

	resp, body := do(t, http.MethodPost, srv.URL+"/coupons/validate", `{"code":"TEN","subtotal":"50"}`, u)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", body["discount_amount"])
	assert.Equal(t, "45", body["total_amount"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/coupons/validate", `{"code":"NOPE","subtotal":"50"}`, u)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]orders.Product
	reads    int
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (orders.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	p, ok := f.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeCatalog) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeCatalog) ListProducts(context.Context) ([]orders.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]orders.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCatalog) CreateProduct(_ context.Context, p orders.Product, _ int) (orders.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[p.ID]; ok {
		return orders.Product{}, orders.ErrAlreadyExists
	}
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeCatalog) UpdateProduct(_ context.Context, id string, u orders.ProductUpdate) (orders.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	f.products[id] = p
	return p, nil
}

// fakeStock is a counter per product standing in for both the ledger and
// the admin stock service.
type fakeStock struct {
	mu sync.Mutex
	n  map[string]int
}

func newFakeStock(n map[string]int) *fakeStock { return &fakeStock{n: n} }

func (f *fakeStock) Peek(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n[id], nil
}

func (f *fakeStock) Restock(_ context.Context, id string, qty int, _ string) (int, error) {
	if qty <= 0 {
		return 0, inventory.ErrInvalidQuantity
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n[id] += qty
	return f.n[id], nil
}

func (f *fakeStock) Adjust(_ context.Context, id string, delta int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n[id]+delta < 0 {
		return f.n[id], &inventory.InsufficientStockError{ProductID: id, Requested: -delta, Available: f.n[id]}
	}
	f.n[id] += delta
	return f.n[id], nil
}

func (f *fakeStock) Resync(ctx context.Context, id string) (int, error) { return f.Peek(ctx, id) }

func (f *fakeStock) Report(ctx context.Context) ([]inventory.ReportLine, error) {
	n, _ := f.Peek(ctx, "p1")
	return []inventory.ReportLine{{ProductID: "p1", Available: n, Status: inventory.StockStatus(n)}}, nil
}

func TestCatalogCacheAndAdminInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cat := &fakeCatalog{products: map[string]orders.Product{
		"p1": {ID: "p1", SKU: "SKU-1", Name: "Kopi", Price: decimal.RequireFromString("25.50"), IsActive: true},
	}}
	stock := newFakeStock(map[string]int{"p1": 7})
	r := NewRouter(zerolog.Nop())
	(&CatalogHandler{Products: cat, Ledger: stock, Redis: rdb}).Register(r)
	(&AdminHandler{Stock: stock, Products: cat, Orders: &stubOrders{}, Redis: rdb}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, body := do(t, http.MethodGet, srv.URL+"/products/p1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Kopi", body["name"])
	assert.Equal(t, float64(7), body["available_quantity"])
	assert.Equal(t, inventory.StockLow, body["stock_status"])
	assert.True(t, mr.Exists(fmt.Sprintf(redisx.KeyProduct, "p1")))

	_, _ = do(t, http.MethodGet, srv.URL+"/products/p1", "", nil)
	assert.Equal(t, 1, cat.readCount(), "second read served from cache")

	resp, _ = do(t, http.MethodPut, srv.URL+"/admin/products/p1", `{"name":"Kopi Susu"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyProduct, "p1")))

	_, body = do(t, http.MethodGet, srv.URL+"/products/p1", "", nil)
	assert.Equal(t, "Kopi Susu", body["name"])

	resp, body = do(t, http.MethodPost, srv.URL+"/admin/products/p1/restock", `{"quantity":5,"reason":"supplier"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(12), body["available_quantity"])

	resp, body = do(t, http.MethodPost, srv.URL+"/admin/products/p1/adjust", `{"delta":-20}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["error"].(map[string]any)["code"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/admin/products/p1/restock", `{"quantity":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminCreateProduct(t *testing.T) {
	cat := &fakeCatalog{products: map[string]orders.Product{}}
	r := NewRouter(zerolog.Nop())
	(&AdminHandler{Stock: newFakeStock(map[string]int{}), Products: cat, Orders: &stubOrders{}}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, body := do(t, http.MethodPost, srv.URL+"/admin/products", `{"id":"p2","sku":"SKU-2","name":"Teh","price":"12.00","quantity":40}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "p2", body["id"])
	assert.Equal(t, true, body["is_active"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/admin/products", `{"id":"p2","sku":"SKU-2","name":"Teh","price":"12.00"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/admin/products", `{"sku":"SKU-3","name":"Gula","price":"-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	var down atomic.Bool
	r := NewRouter(zerolog.Nop(), func(context.Context) error {
		if down.Load() {
			return errors.New("redis down")
		}
		return nil
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down.Store(true)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
