package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AppliedCoupon is a frozen copy of the coupon terms at order time.
type AppliedCoupon struct {
	Code          string          `json:"code"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type Order struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"external_id,omitempty"`
	UserID         string          `json:"user_id"`
	Status         Status          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Coupon         *AppliedCoupon  `json:"applied_coupon,omitempty"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	LockExpiresAt  time.Time       `json:"lock_expires_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

func (it OrderItem) LineTotal() decimal.Decimal {
	return it.PriceAtPurchase.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// OrderDetail is an order with its items, as returned to clients.
type OrderDetail struct {
	Order
	Items      []OrderItem `json:"items"`
	Idempotent bool        `json:"idempotent,omitempty"`
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Page struct {
	Page     int
	PageSize int
	Status   Status // kosong = semua
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps page to >= 1 and page size to [1, MaxPageSize].
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

type OrderList struct {
	Orders   []Order `json:"orders"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int     `json:"total"`
}
