package httpx

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/checkout"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"net/http"
	"time"
)

// OrderService is the part of checkout.Service the order endpoints use.
type OrderService interface {
	PlaceOrder(ctx context.Context, in checkout.PlaceOrderInput) (orders.OrderDetail, error)
	GetOrder(ctx context.Context, orderID, userID string) (orders.OrderDetail, error)
	ListOrders(ctx context.Context, userID string, p orders.Page) (orders.OrderList, error)
	OrderStatus(ctx context.Context, orderID string) (orders.Status, error)
	CancelOrder(ctx context.Context, orderID, userID string) (orders.OrderDetail, error)
	ConfirmPayment(ctx context.Context, orderID, paymentRef string) (orders.OrderDetail, error)
	QuoteCoupon(ctx context.Context, userID, code string, items []orders.ItemInput, subtotal decimal.Decimal) (checkout.CouponQuote, error)
}

// SKUResolver is satisfied by *orders.Repo.
type SKUResolver interface {
	ProductIDsBySKU(ctx context.Context, skus []string) (map[string]string, error)
}

type OrdersHandler struct {
	Orders OrderService
	SKUs   SKUResolver
}

type SKUItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// CreateOrderBySKUReq is the placement body for clients that only know SKUs.
type CreateOrderBySKUReq struct {
	UserID     string    `json:"user_id"`
	ExternalID string    `json:"external_id,omitempty"`
	CouponCode string    `json:"coupon_code,omitempty"`
	Items      []SKUItem `json:"items"`
}

type PaymentReq struct {
	PaymentRef string `json:"payment_ref"`
}

type ValidateCouponReq struct {
	UserID   string             `json:"user_id"`
	Code     string             `json:"code"`
	Items    []orders.ItemInput `json:"items"`
	Subtotal decimal.Decimal    `json:"subtotal"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	if h.SKUs != nil {
		r.Post("/orders/sku", h.createOrderBySKU)
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/payment", h.confirmPayment)
	r.Post("/coupons/validate", h.validateCoupon)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.PlaceOrderInput
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	h.place(w, r, req)
}

// createOrderBySKU resolves SKUs to product ids and then places the order
// exactly like POST /orders.
func (h *OrdersHandler) createOrderBySKU(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderBySKUReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if len(req.Items) == 0 {
		badRequest(w, "items is required")
		return
	}
	skus := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if it.SKU == "" {
			badRequest(w, "sku is required")
			return
		}
		skus = append(skus, it.SKU)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	ids, err := h.SKUs.ProductIDsBySKU(ctx, skus)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := checkout.PlaceOrderInput{UserID: req.UserID, CouponCode: req.CouponCode, IdempotencyKey: req.ExternalID}
	for _, it := range req.Items {
		id, ok := ids[it.SKU]
		if !ok {
			writeError(w, r, fmt.Errorf("%w: sku %s", orders.ErrProductNotFound, it.SKU))
			return
		}
		in.Items = append(in.Items, orders.ItemInput{ProductID: id, Quantity: it.Quantity})
	}
	h.place(w, r, in)
}

func (h *OrdersHandler) place(w http.ResponseWriter, r *http.Request, req checkout.PlaceOrderInput) {
	req.UserID = userID(r, req.UserID)
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Orders.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if d.Idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, d)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r, "")
	if uid == "" {
		badRequest(w, "missing "+headerUserID)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, uid, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r, "")
	if uid == "" {
		badRequest(w, "missing "+headerUserID)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	d, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// getStatus: jalur ringan lewat cache status Redis.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Orders.OrderStatus(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "status": st})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r, "")
	if uid == "" {
		badRequest(w, "missing "+headerUserID)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Orders.CancelOrder(ctx, chi.URLParam(r, "id"), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Orders.ConfirmPayment(ctx, chi.URLParam(r, "id"), req.PaymentRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	uid := userID(r, req.UserID)
	if uid == "" {
		badRequest(w, "missing "+headerUserID)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	q, err := h.Orders.QuoteCoupon(ctx, uid, req.Code, req.Items, req.Subtotal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
