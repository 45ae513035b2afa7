package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-flashsale-orders/internal/checkout"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"net/http"
	"strconv"
)

const headerUserID = "X-User-ID"

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorMapping urutannya penting: yang lebih spesifik duluan.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{checkout.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{inventory.ErrInvalidQuantity, http.StatusBadRequest, "INVALID_QUANTITY"},
	{coupons.ErrMinimumPurchaseNotMet, http.StatusBadRequest, "MINIMUM_PURCHASE_NOT_MET"},
	{orders.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{orders.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
	{inventory.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
	{coupons.ErrCouponNotFound, http.StatusNotFound, "COUPON_NOT_FOUND"},
	{inventory.ErrInsufficientStock, http.StatusConflict, "INSUFFICIENT_STOCK"},
	{coupons.ErrCouponExpired, http.StatusConflict, "COUPON_EXPIRED"},
	{coupons.ErrCouponExhausted, http.StatusConflict, "COUPON_EXHAUSTED"},
	{coupons.ErrAlreadyRedeemed, http.StatusConflict, "COUPON_ALREADY_REDEEMED"},
	{orders.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{checkout.ErrProductUnavailable, http.StatusConflict, "PRODUCT_UNAVAILABLE"},
	{checkout.ErrIdempotencyConflict, http.StatusConflict, "IDEMPOTENCY_CONFLICT"},
	{orders.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{checkout.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{inventory.ErrLedgerUnavailable, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"},
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describe(err)
	if status >= http.StatusInternalServerError {
		logx.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: body})
}

func describe(err error) (int, apiError) {
	var pf *checkout.PartialFailureError
	if errors.As(err, &pf) {
		return http.StatusConflict, apiError{
			Code:    "INSUFFICIENT_STOCK",
			Message: "one or more items do not have enough stock",
			Details: map[string]any{"items": pf.Items},
		}
	}
	var ise *inventory.InsufficientStockError
	if errors.As(err, &ise) {
		return http.StatusConflict, apiError{
			Code:    "INSUFFICIENT_STOCK",
			Message: ise.Error(),
			Details: map[string]any{"product_id": ise.ProductID, "requested_quantity": ise.Requested, "available_quantity": ise.Available},
		}
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, apiError{Code: m.code, Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "internal error"}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: apiError{Code: "INVALID_REQUEST", Message: msg}})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// userID: header dari session layer; fallback ke field body kalau ada.
func userID(r *http.Request, fallback string) string {
	if u := r.Header.Get(headerUserID); u != "" {
		return u
	}
	return fallback
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func pageFrom(r *http.Request) orders.Page {
	return orders.Page{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
		Status:   orders.Status(r.URL.Query().Get("status")),
	}
}
