package coupons

import (
	"errors"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

type DiscountType string

const (
	Percentage  DiscountType = "PERCENTAGE"
	FixedAmount DiscountType = "FIXED_AMOUNT"
)

var (
	ErrCouponNotFound        = errors.New("coupon not found")
	ErrCouponExpired         = errors.New("coupon expired or inactive")
	ErrCouponExhausted       = errors.New("coupon quota exhausted")
	ErrAlreadyRedeemed       = errors.New("coupon already redeemed by user")
	ErrMinimumPurchaseNotMet = errors.New("minimum purchase not met")
)

type Coupon struct {
	ID                string
	Code              string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MinPurchaseAmount decimal.Decimal
	ValidFrom         time.Time
	ValidUntil        time.Time
	TotalLimit        int // 0 = unlimited
	UsedCount         int
	IsActive          bool
}

// Usable reports whether the coupon is active and inside its validity window.
func (c Coupon) Usable(now time.Time) bool {
	return c.IsActive && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// Snapshot is the denormalized copy stored on an order.
type Snapshot struct {
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

func (c Coupon) Snapshot() Snapshot {
	return Snapshot{Code: c.Code, DiscountType: c.DiscountType, DiscountValue: c.DiscountValue}
}

// Discount computes the amount off subtotal, clamped to [0, subtotal].
func Discount(s Snapshot, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch s.DiscountType {
	case Percentage:
		d = subtotal.Mul(s.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	case FixedAmount:
		d = s.DiscountValue
	default:
		return decimal.Zero
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}

// NormalizeCode: kode kupon case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
