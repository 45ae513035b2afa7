package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"net/http"
	"time"
)

type productReader interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type stockPeeker interface {
	Peek(ctx context.Context, productID string) (int, error)
}

// ProductView is a catalog entry with live ledger availability.
type ProductView struct {
	orders.Product
	Available   int    `json:"available_quantity"`
	StockStatus string `json:"stock_status"`
}

type CatalogHandler struct {
	Products productReader
	Ledger   stockPeeker
	Redis    redis.Cmdable // optional product cache
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ProductView, 0, len(ps))
	for _, p := range ps {
		v, err := h.view(ctx, p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.product(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.view(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// product: cache dulu, lalu DB. Stok tidak ikut di-cache.
func (h *CatalogHandler) product(ctx context.Context, id string) (orders.Product, error) {
	key := fmt.Sprintf(redisx.KeyProduct, id)
	if h.Redis != nil {
		if raw, err := h.Redis.Get(ctx, key).Bytes(); err == nil {
			var p orders.Product
			if json.Unmarshal(raw, &p) == nil {
				return p, nil
			}
		}
	}
	p, err := h.Products.GetProduct(ctx, id)
	if err != nil {
		return orders.Product{}, err
	}
	if h.Redis != nil {
		b, _ := json.Marshal(p)
		if err := h.Redis.Set(ctx, key, b, redisx.TTLProduct).Err(); err != nil {
			logx.Ctx(ctx).Warn().Err(err).Str("product_id", id).Msg("product cache set")
		}
	}
	return p, nil
}

func (h *CatalogHandler) view(ctx context.Context, p orders.Product) (ProductView, error) {
	avail, err := h.Ledger.Peek(ctx, p.ID)
	if err != nil {
		return ProductView{}, err
	}
	return ProductView{Product: p, Available: avail, StockStatus: inventory.StockStatus(avail)}, nil
}

func invalidateProduct(ctx context.Context, rdb redis.Cmdable, id string) {
	if rdb == nil {
		return
	}
	if err := rdb.Del(ctx, fmt.Sprintf(redisx.KeyProduct, id)).Err(); err != nil {
		logx.Ctx(ctx).Warn().Err(err).Str("product_id", id).Msg("product cache invalidate")
	}
}
