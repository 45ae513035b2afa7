package httpx

import (
	"context"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"net/http"
	"strings"
	"time"
)

type stockAdmin interface {
	Restock(ctx context.Context, productID string, qty int, reason string) (int, error)
	Adjust(ctx context.Context, productID string, delta int, reason string) (int, error)
	Resync(ctx context.Context, productID string) (int, error)
	Report(ctx context.Context) ([]inventory.ReportLine, error)
}

type productWriter interface {
	CreateProduct(ctx context.Context, p orders.Product, quantity int) (orders.Product, error)
	UpdateProduct(ctx context.Context, id string, u orders.ProductUpdate) (orders.Product, error)
}

type orderLister interface {
	ListOrders(ctx context.Context, userID string, p orders.Page) (orders.OrderList, error)
}

// AdminHandler serves /admin/*. Authentication is done in front of this service.
type AdminHandler struct {
	Stock    stockAdmin
	Products productWriter
	Orders   orderLister
	Redis    redis.Cmdable // product cache to invalidate
}

type CreateProductReq struct {
	ID       string          `json:"id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	IsActive *bool           `json:"is_active"`
}

type RestockReq struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type AdjustReq struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type stockResp struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available_quantity"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/products", h.createProduct)
		r.Put("/products/{id}", h.updateProduct)
		r.Post("/products/{id}/restock", h.restock)
		r.Post("/products/{id}/adjust", h.adjust)
		r.Post("/products/{id}/resync", h.resync)
		r.Get("/inventory", h.report)
		r.Get("/orders", h.listOrders)
	})
}

func (h *AdminHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	req.SKU = strings.TrimSpace(req.SKU)
	if req.SKU == "" || req.Name == "" {
		badRequest(w, "sku and name are required")
		return
	}
	if req.Price.IsNegative() || req.Quantity < 0 {
		badRequest(w, "price and quantity must not be negative")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Products.CreateProduct(ctx, orders.Product{ID: req.ID, SKU: req.SKU, Name: req.Name, Price: req.Price, IsActive: active}, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *AdminHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req orders.ProductUpdate
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Price != nil && req.Price.IsNegative() {
		badRequest(w, "price must not be negative")
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Products.UpdateProduct(ctx, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invalidateProduct(ctx, h.Redis, id)
	writeJSON(w, http.StatusOK, p)
}

func (h *AdminHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	left, err := h.Stock.Restock(ctx, id, req.Quantity, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{ProductID: id, Available: left})
}

func (h *AdminHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	left, err := h.Stock.Adjust(ctx, id, req.Delta, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{ProductID: id, Available: left})
}

func (h *AdminHandler) resync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := h.Stock.Resync(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{ProductID: id, Available: n})
}

func (h *AdminHandler) report(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	lines, err := h.Stock.Report(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *AdminHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, r.URL.Query().Get("user_id"), pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
