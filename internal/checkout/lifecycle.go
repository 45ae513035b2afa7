package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/metrics"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/shopspring/decimal"
)

// ConfirmPayment moves a PENDING order to PAID. A repeat confirmation with
// the same payment ref is accepted; anything else that is no longer PENDING
// is rejected with ErrInvalidTransition.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentRef string) (orders.OrderDetail, error) {
	if paymentRef == "" {
		return orders.OrderDetail{}, fmt.Errorf("%w: missing payment_ref", ErrInvalidRequest)
	}
	d, changed, err := s.Orders.Transition(ctx, orderID, orders.StatusPaid, paymentRef)
	if err != nil {
		return orders.OrderDetail{}, err
	}
	if !changed {
		if d.Status == orders.StatusPaid && d.PaymentRef == paymentRef {
			return d, nil
		}
		return d, fmt.Errorf("%w: order %s is %s", orders.ErrInvalidTransition, orderID, d.Status)
	}
	s.cacheStatus(ctx, d.Order)
	s.emit(ctx, d.ID, orders.EventOrderPaid, orders.OrderStatusPayload{
		OrderID: d.ID, UserID: d.UserID, From: orders.StatusPending, To: orders.StatusPaid, PaymentRef: paymentRef,
	})
	logx.Ctx(ctx).Info().Str("order_id", d.ID).Str("payment_ref", paymentRef).Msg("order paid")
	return d, nil
}

// CancelOrder cancels a PENDING order on behalf of its owner. userID ""
// skips the ownership check (admin).
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) (orders.OrderDetail, error) {
	if userID != "" {
		if _, err := s.GetOrder(ctx, orderID, userID); err != nil {
			return orders.OrderDetail{}, err
		}
	}
	d, changed, err := s.release(ctx, orderID, orders.StatusCancelled)
	if err != nil {
		return orders.OrderDetail{}, err
	}
	if !changed {
		if d.Status == orders.StatusCancelled {
			return d, nil
		}
		return d, fmt.Errorf("%w: order %s is %s", orders.ErrInvalidTransition, orderID, d.Status)
	}
	return d, nil
}

// ExpireOrder is called by the reaper. It reports false when the order was
// no longer PENDING, in which case nothing is released.
func (s *Service) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	_, changed, err := s.release(ctx, orderID, orders.StatusExpired)
	if err != nil {
		return false, err
	}
	if changed {
		metrics.OrdersExpired.Inc()
	}
	return changed, nil
}

// release transitions the order and, only if this call won the transition,
// hands its units back to the ledger.
func (s *Service) release(ctx context.Context, orderID string, to orders.Status) (orders.OrderDetail, bool, error) {
	d, changed, err := s.Orders.Transition(ctx, orderID, to, "")
	if err != nil || !changed {
		return d, false, err
	}
	// transisi sudah commit: add-back ke ledger tidak boleh batal
	ctx, cancel := detached(ctx)
	defer cancel()
	held := make([]reservation, 0, len(d.Items))
	released := make([]orders.ItemQty, 0, len(d.Items))
	for _, it := range d.Items {
		held = append(held, reservation{productID: it.ProductID, qty: it.Quantity})
		released = append(released, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	s.releaseAll(ctx, held, string(to))
	s.cacheStatus(ctx, d.Order)

	event := orders.EventOrderCancelled
	if to == orders.StatusExpired {
		event = orders.EventOrderExpired
	}
	s.emit(ctx, d.ID, event, orders.OrderStatusPayload{
		OrderID: d.ID, UserID: d.UserID, From: orders.StatusPending, To: to, Items: released,
	})
	logx.Ctx(ctx).Info().Str("order_id", d.ID).Str("status", string(to)).Int("lines", len(released)).Msg("order released stock")
	return d, true, nil
}

// GetOrder returns the order if userID owns it. userID "" is admin access.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (orders.OrderDetail, error) {
	d, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return orders.OrderDetail{}, err
	}
	if userID != "" && d.UserID != userID {
		return orders.OrderDetail{}, orders.ErrOrderNotFound
	}
	return d, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string, p orders.Page) (orders.OrderList, error) {
	if p.Status != "" && !p.Status.Valid() {
		return orders.OrderList{}, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, p.Status)
	}
	return s.Orders.ListOrders(ctx, userID, p)
}

// OrderStatus reads through the status cache.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (orders.Status, error) {
	if s.Redis != nil {
		if raw, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Bytes(); err == nil {
			var c statusCache
			if json.Unmarshal(raw, &c) == nil && c.Status != "" {
				return c.Status, nil
			}
		}
	}
	st, err := s.Orders.GetOrderStatus(ctx, orderID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, orders.Order{ID: orderID, Status: st, UpdatedAt: s.now()})
	return st, nil
}

type CouponQuote struct {
	Coupon   coupons.Snapshot `json:"coupon"`
	Subtotal decimal.Decimal  `json:"subtotal"`
	Discount decimal.Decimal  `json:"discount_amount"`
	Total    decimal.Decimal  `json:"total_amount"`
}

// QuoteCoupon validates a code against a cart (priced from the catalog) or
// a bare subtotal, without redeeming it.
func (s *Service) QuoteCoupon(ctx context.Context, userID, code string, items []orders.ItemInput, subtotal decimal.Decimal) (CouponQuote, error) {
	if code == "" {
		return CouponQuote{}, fmt.Errorf("%w: missing code", ErrInvalidRequest)
	}
	if len(items) > 0 {
		lines, err := normalizeItems(items)
		if err != nil {
			return CouponQuote{}, err
		}
		ids := make([]string, 0, len(lines))
		for _, it := range lines {
			ids = append(ids, it.ProductID)
		}
		products, err := s.Orders.GetProducts(ctx, ids)
		if err != nil {
			return CouponQuote{}, err
		}
		subtotal = decimal.Zero
		for _, it := range lines {
			p, ok := products[it.ProductID]
			if !ok {
				return CouponQuote{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, it.ProductID)
			}
			subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	if subtotal.IsNegative() {
		return CouponQuote{}, fmt.Errorf("%w: negative subtotal", ErrInvalidRequest)
	}
	snap, err := s.Coupons.Validate(ctx, userID, code, subtotal)
	if err != nil {
		return CouponQuote{}, err
	}
	disc := coupons.Discount(snap, subtotal)
	return CouponQuote{Coupon: snap, Subtotal: subtotal, Discount: disc, Total: subtotal.Sub(disc)}, nil
}
