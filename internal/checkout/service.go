package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/metrics"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/ariefcatur/go-flashsale-orders/internal/tracing"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"sort"
	"time"
)

const DefaultLockWindow = 15 * time.Minute

type CouponRedeemer interface {
	Redeem(ctx context.Context, userID, code string, subtotal decimal.Decimal, orderRef string) (coupons.Snapshot, error)
	Validate(ctx context.Context, userID, code string, subtotal decimal.Decimal) (coupons.Snapshot, error)
	Revoke(ctx context.Context, userID, code string) error
}

type OrderStore interface {
	GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error)
	CreatePending(ctx context.Context, o orders.Order, items []orders.OrderItem) error
	GetOrder(ctx context.Context, orderID string) (orders.OrderDetail, error)
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error)
	FindByExternalID(ctx context.Context, externalID string) (orders.OrderDetail, error)
	Transition(ctx context.Context, orderID string, to orders.Status, paymentRef string) (orders.OrderDetail, bool, error)
	ListOrders(ctx context.Context, userID string, p orders.Page) (orders.OrderList, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// Service places orders and drives them out of PENDING.
type Service struct {
	Ledger     inventory.StockLedger
	Coupons    CouponRedeemer
	Orders     OrderStore
	Limiter    RateLimiter      // optional
	Redis      redis.Cmdable    // optional: idempotency fast path + status cache
	Events     orders.Publisher // optional
	Name       string
	LockWindow time.Duration
	Now        func() time.Time
}

type PlaceOrderInput struct {
	UserID         string             `json:"user_id"`
	Items          []orders.ItemInput `json:"items"`
	CouponCode     string             `json:"coupon_code,omitempty"`
	IdempotencyKey string             `json:"external_id,omitempty"`
}

// compensationTimeout bounds releases and revokes that run after the caller
// has gone away.
const compensationTimeout = 5 * time.Second

// detached keeps ctx values (logger, span) but drops its cancellation.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) lockWindow() time.Duration {
	if s.LockWindow <= 0 {
		return DefaultLockWindow
	}
	return s.LockWindow
}

// normalizeItems validates lines, merges duplicates and sorts by product id
// so concurrent carts always lock products in the same order.
func normalizeItems(in []orders.ItemInput) ([]orders.ItemInput, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidRequest)
	}
	merged := map[string]int{}
	for _, it := range in {
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: missing product_id", ErrInvalidRequest)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidRequest, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}
	out := make([]orders.ItemInput, 0, len(merged))
	for id, q := range merged {
		out = append(out, orders.ItemInput{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (detail orders.OrderDetail, err error) {
	start := time.Now()
	ctx, span := tracing.Tracer("checkout").Start(ctx, "checkout.PlaceOrder")
	defer func() {
		metrics.PlaceOrderDuration.Observe(time.Since(start).Seconds())
		metrics.OrdersPlaced.WithLabelValues(placeResult(err)).Inc()
		if err != nil {
			tracing.Fail(span, err)
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("user_id", in.UserID), attribute.Int("lines", len(in.Items)))

	if in.UserID == "" {
		return orders.OrderDetail{}, fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	items, err := normalizeItems(in.Items)
	if err != nil {
		return orders.OrderDetail{}, err
	}

	if in.IdempotencyKey != "" {
		if d, ok, err := s.lookupIdempotent(ctx, in.UserID, in.IdempotencyKey); err != nil || ok {
			return d, err
		}
	}
	if s.Limiter != nil {
		ok, err := s.Limiter.Allow(ctx, in.UserID)
		if err != nil {
			logx.Ctx(ctx).Warn().Err(err).Msg("rate limiter unavailable, allowing")
		} else if !ok {
			return orders.OrderDetail{}, ErrRateLimited
		}
	}

	// snapshot harga diambil dari DB, bukan dari client
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Orders.GetProducts(ctx, ids)
	if err != nil {
		return orders.OrderDetail{}, err
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return orders.OrderDetail{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
		}
		if !p.IsActive {
			return orders.OrderDetail{}, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
		}
	}

	reserved, err := s.reserveAll(ctx, items)
	if err != nil {
		return orders.OrderDetail{}, err
	}

	orderID := uuid.NewString()
	lines := make([]orders.OrderItem, 0, len(items))
	subtotal := decimal.Zero
	for _, it := range items {
		p := products[it.ProductID]
		line := orders.OrderItem{ProductID: p.ID, ProductName: p.Name, Quantity: it.Quantity, PriceAtPurchase: p.Price}
		subtotal = subtotal.Add(line.LineTotal())
		lines = append(lines, line)
	}

	var applied *orders.AppliedCoupon
	discount := decimal.Zero
	if in.CouponCode != "" {
		snap, err := s.Coupons.Redeem(ctx, in.UserID, in.CouponCode, subtotal, orderID)
		if err != nil {
			s.releaseAll(ctx, reserved, "coupon_failed")
			return orders.OrderDetail{}, err
		}
		discount = coupons.Discount(snap, subtotal)
		applied = &orders.AppliedCoupon{Code: snap.Code, DiscountType: string(snap.DiscountType), DiscountValue: snap.DiscountValue}
	}

	now := s.now()
	o := orders.Order{
		ID:             orderID,
		ExternalID:     in.IdempotencyKey,
		UserID:         in.UserID,
		Status:         orders.StatusPending,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TotalAmount:    decimal.Max(subtotal.Sub(discount), decimal.Zero),
		Coupon:         applied,
		LockExpiresAt:  now.Add(s.lockWindow()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Orders.CreatePending(ctx, o, lines); err != nil {
		if applied != nil {
			rctx, cancel := detached(ctx)
			rerr := s.Coupons.Revoke(rctx, in.UserID, applied.Code)
			cancel()
			if rerr != nil {
				logx.Ctx(ctx).Error().Err(rerr).Str("coupon", applied.Code).Msg("coupon revoke failed")
			}
		}
		s.releaseAll(ctx, reserved, "persist_failed")
		if errors.Is(err, orders.ErrAlreadyExists) && in.IdempotencyKey != "" {
			if d, ok, lerr := s.lookupIdempotent(ctx, in.UserID, in.IdempotencyKey); lerr == nil && ok {
				return d, nil
			}
		}
		return orders.OrderDetail{}, err
	}

	detail = orders.OrderDetail{Order: o, Items: lines}
	s.afterPlace(ctx, detail)
	span.SetAttributes(attribute.String("order_id", orderID))
	logx.Ctx(ctx).Info().Str("order_id", orderID).Str("user_id", in.UserID).
		Str("total", o.TotalAmount.StringFixed(2)).Time("lock_expires_at", o.LockExpiresAt).Msg("order placed")
	return detail, nil
}

type reservation struct {
	productID string
	qty       int
}

// reserveAll reserves every line in order. On the first shortage it stops
// reserving, peeks the remaining lines for the report, and releases what
// it already holds.
func (s *Service) reserveAll(ctx context.Context, items []orders.ItemInput) ([]reservation, error) {
	held := make([]reservation, 0, len(items))
	outcomes := make([]ItemOutcome, 0, len(items))
	failed := false

	for _, it := range items {
		if failed {
			avail, err := s.Ledger.Peek(ctx, it.ProductID)
			if err != nil {
				s.releaseAll(ctx, held, "rollback")
				return nil, err
			}
			if avail >= it.Quantity {
				outcomes = append(outcomes, ItemOutcome{ProductID: it.ProductID, RequestedQuantity: it.Quantity, AvailableQuantity: avail, Status: ItemAvailable})
			} else {
				outcomes = append(outcomes, shortage(it.ProductID, it.Quantity, avail))
			}
			continue
		}

		left, err := s.Ledger.Reserve(ctx, it.ProductID, it.Quantity)
		var ise *inventory.InsufficientStockError
		switch {
		case err == nil:
			held = append(held, reservation{productID: it.ProductID, qty: it.Quantity})
			outcomes = append(outcomes, ItemOutcome{ProductID: it.ProductID, RequestedQuantity: it.Quantity, AvailableQuantity: left + it.Quantity, Status: ItemReserved})
		case errors.As(err, &ise):
			failed = true
			outcomes = append(outcomes, shortage(it.ProductID, it.Quantity, ise.Available))
		default:
			s.releaseAll(ctx, held, "rollback")
			return nil, err
		}
	}

	if failed {
		s.releaseAll(ctx, held, "rollback")
		return nil, &PartialFailureError{Items: outcomes}
	}
	return held, nil
}

// releaseAll gives units back to the ledger. Errors are logged; the ledger
// can be resynced from durable state.
func (s *Service) releaseAll(ctx context.Context, held []reservation, reason string) {
	if len(held) == 0 {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	for _, r := range held {
		if _, err := s.Ledger.Release(ctx, r.productID, r.qty); err != nil {
			logx.Ctx(ctx).Error().Err(err).Str("product_id", r.productID).Int("qty", r.qty).Str("reason", reason).Msg("ledger release failed")
			continue
		}
		metrics.Releases.WithLabelValues(reason).Inc()
	}
}

func (s *Service) lookupIdempotent(ctx context.Context, userID, key string) (orders.OrderDetail, bool, error) {
	var (
		d   orders.OrderDetail
		err error
	)
	// fast path Redis, DB tetap jadi kebenaran
	if id := s.cachedIdempotent(ctx, key); id != "" {
		d, err = s.Orders.GetOrder(ctx, id)
	} else {
		d, err = s.Orders.FindByExternalID(ctx, key)
	}
	if errors.Is(err, orders.ErrOrderNotFound) {
		return orders.OrderDetail{}, false, nil
	}
	if err != nil {
		return orders.OrderDetail{}, false, err
	}
	if d.UserID != userID {
		return orders.OrderDetail{}, false, ErrIdempotencyConflict
	}
	d.Idempotent = true
	return d, true, nil
}

func (s *Service) cachedIdempotent(ctx context.Context, key string) string {
	if s.Redis == nil {
		return ""
	}
	id, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key)).Result()
	if err != nil {
		return ""
	}
	return id
}

func (s *Service) afterPlace(ctx context.Context, d orders.OrderDetail) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if s.Redis != nil && d.ExternalID != "" {
		_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, d.ExternalID), d.ID, redisx.TTLIdempotency).Err()
	}
	s.cacheStatus(ctx, d.Order)

	payload := orders.OrderPlacedPayload{
		OrderID:       d.ID,
		UserID:        d.UserID,
		Items:         d.Items,
		Subtotal:      d.Subtotal,
		Discount:      d.DiscountAmount,
		Total:         d.TotalAmount,
		LockExpiresAt: d.LockExpiresAt,
	}
	if d.Coupon != nil {
		payload.CouponCode = d.Coupon.Code
	}
	s.emit(ctx, d.ID, orders.EventOrderPlaced, payload)
}

type statusCache struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (s *Service) cacheStatus(ctx context.Context, o orders.Order) {
	if s.Redis == nil {
		return
	}
	b, _ := json.Marshal(statusCache{Status: o.Status, UpdatedAt: o.UpdatedAt})
	_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err()
}

func (s *Service) emit(ctx context.Context, orderID, eventType string, payload any) {
	if s.Events == nil {
		return
	}
	if err := orders.Emit(s.Events, s.Name, orderID, tracing.TraceID(ctx), eventType, payload); err != nil {
		logx.Ctx(ctx).Error().Err(err).Str("event", eventType).Str("order_id", orderID).Msg("emit failed")
	}
}

func placeResult(err error) string {
	var pf *PartialFailureError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pf):
		return "insufficient_stock"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
