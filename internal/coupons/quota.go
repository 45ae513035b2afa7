package coupons

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/metrics"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"time"
)

// Capped increment: -1 counter belum di-seed, 0 kuota habis, 1 sukses.
var claimScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return -1
end
local limit = tonumber(ARGV[1])
if limit > 0 and tonumber(v) >= limit then
  return 0
end
redis.call('INCR', KEYS[1])
return 1
`)

var unclaimScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and tonumber(v) > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

type RedemptionStore interface {
	FindByCode(ctx context.Context, code string) (Coupon, error)
	RecordRedemption(ctx context.Context, couponID, userID, orderRef string) error
	DeleteRedemption(ctx context.Context, couponID, userID string) (bool, error)
	HasRedeemed(ctx context.Context, couponID, userID string) (bool, error)
}

// Manager enforces the coupon quota in Redis and single use per user in Postgres.
type Manager struct {
	Redis redis.Cmdable
	Store RedemptionStore
	Now   func() time.Time
}

func NewManager(rdb redis.Cmdable, store RedemptionStore) *Manager {
	return &Manager{Redis: rdb, Store: store, Now: time.Now}
}

func usedKey(code string) string { return fmt.Sprintf(redisx.KeyCouponUsed, code) }

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// check runs the validations that do not touch the quota:
// existence, active flag and window, minimum purchase.
func (m *Manager) check(ctx context.Context, code string, subtotal decimal.Decimal) (Coupon, error) {
	c, err := m.Store.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Coupon{}, err
	}
	if !c.Usable(m.now()) {
		return c, ErrCouponExpired
	}
	if subtotal.LessThan(c.MinPurchaseAmount) {
		return c, fmt.Errorf("%w: need %s, got %s", ErrMinimumPurchaseNotMet, c.MinPurchaseAmount.StringFixed(2), subtotal.StringFixed(2))
	}
	return c, nil
}

// Validate reports whether userID could redeem code right now without
// consuming any quota.
func (m *Manager) Validate(ctx context.Context, userID, code string, subtotal decimal.Decimal) (Snapshot, error) {
	c, err := m.check(ctx, code, subtotal)
	if err != nil {
		return Snapshot{}, err
	}
	done, err := m.Store.HasRedeemed(ctx, c.ID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if done {
		return Snapshot{}, ErrAlreadyRedeemed
	}
	if c.TotalLimit > 0 {
		used, err := m.used(ctx, c)
		if err != nil {
			return Snapshot{}, err
		}
		if used >= c.TotalLimit {
			return Snapshot{}, ErrCouponExhausted
		}
	}
	return c.Snapshot(), nil
}

// Redeem consumes one unit of quota and records the (user, coupon) pair.
// Any failure after the counter moved gives the unit back.
func (m *Manager) Redeem(ctx context.Context, userID, code string, subtotal decimal.Decimal, orderRef string) (Snapshot, error) {
	c, err := m.check(ctx, code, subtotal)
	if err != nil {
		metrics.CouponRedemptions.WithLabelValues(resultLabel(err)).Inc()
		return Snapshot{}, err
	}
	if err := m.claim(ctx, c); err != nil {
		metrics.CouponRedemptions.WithLabelValues(resultLabel(err)).Inc()
		return Snapshot{}, err
	}
	if err := m.Store.RecordRedemption(ctx, c.ID, userID, orderRef); err != nil {
		m.unclaim(ctx, c.Code)
		metrics.CouponRedemptions.WithLabelValues(resultLabel(err)).Inc()
		return Snapshot{}, err
	}
	metrics.CouponRedemptions.WithLabelValues("ok").Inc()
	logx.Ctx(ctx).Info().Str("coupon", c.Code).Str("user_id", userID).Str("order_ref", orderRef).Msg("coupon redeemed")
	return c.Snapshot(), nil
}

// Revoke undoes a redemption whose order never got persisted.
func (m *Manager) Revoke(ctx context.Context, userID, code string) error {
	c, err := m.Store.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return err
	}
	deleted, err := m.Store.DeleteRedemption(ctx, c.ID, userID)
	if err != nil {
		return err
	}
	if deleted {
		m.unclaim(ctx, c.Code)
		logx.Ctx(ctx).Info().Str("coupon", c.Code).Str("user_id", userID).Msg("coupon redemption revoked")
	}
	return nil
}

func (m *Manager) claim(ctx context.Context, c Coupon) error {
	key := usedKey(c.Code)
	for attempt := 0; attempt < 2; attempt++ {
		res, err := claimScript.Run(ctx, m.Redis, []string{key}, c.TotalLimit).Int()
		if err != nil {
			return fmt.Errorf("claim coupon %s: %w", c.Code, err)
		}
		switch res {
		case 1:
			return nil
		case 0:
			return ErrCouponExhausted
		}
		// counter hilang: seed dari used_count di DB
		if err := m.Redis.SetNX(ctx, key, c.UsedCount, 0).Err(); err != nil {
			return fmt.Errorf("seed coupon %s: %w", c.Code, err)
		}
	}
	return fmt.Errorf("claim coupon %s: counter unavailable", c.Code)
}

func (m *Manager) unclaim(ctx context.Context, code string) {
	if err := unclaimScript.Run(ctx, m.Redis, []string{usedKey(code)}).Err(); err != nil {
		logx.Ctx(ctx).Error().Err(err).Str("coupon", code).Msg("coupon counter compensation failed")
	}
}

func (m *Manager) used(ctx context.Context, c Coupon) (int, error) {
	n, err := m.Redis.Get(ctx, usedKey(c.Code)).Int()
	if errors.Is(err, redis.Nil) {
		return c.UsedCount, nil
	}
	return n, err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, ErrCouponExpired):
		return "expired"
	case errors.Is(err, ErrMinimumPurchaseNotMet):
		return "min_purchase"
	case errors.Is(err, ErrCouponExhausted):
		return "exhausted"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	default:
		return "error"
	}
}
