package checkout

import (
	"context"
	"encoding/json"
	"errors"
	kafkax "github.com/ariefcatur/go-flashsale-orders/internal/kafka"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

const paymentsDedup = "payments"

// PaymentHandler consumes PaymentAuthorized events from the gateway adapter.
type PaymentHandler struct {
	Service *Service
	Redis   redis.Cmdable // optional dedup
}

// Handle dipasang sebagai handler consumer. Returning nil commits the offset.
func (h *PaymentHandler) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		logx.Ctx(ctx).Warn().Err(err).Int64("offset", m.Offset).Msg("drop malformed payment message")
		return nil
	}
	if env.EventType != orders.EventPaymentAuthorized {
		return nil // ignore
	}
	if h.Redis != nil && env.EventID != "" {
		first, err := redisx.MarkOnce(ctx, h.Redis, paymentsDedup, env.EventID)
		if err == nil && !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentAuthorizedPayload](env.Payload)
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Str("event_id", env.EventID).Msg("drop payment with bad payload")
		return nil
	}
	ctx = logx.With(ctx, "order_id", p.OrderID)

	d, err := h.Service.ConfirmPayment(ctx, p.OrderID, p.PaymentRef)
	switch {
	case err == nil:
		if !p.Amount.IsZero() && !p.Amount.Equal(d.TotalAmount) {
			logx.Ctx(ctx).Warn().Str("paid", p.Amount.String()).Str("total", d.TotalAmount.String()).Msg("payment amount differs from order total")
		}
		return nil
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, ErrInvalidRequest):
		// tidak bisa diproses ulang, commit saja
		logx.Ctx(ctx).Warn().Err(err).Str("payment_ref", p.PaymentRef).Msg("payment not applied")
		return nil
	default:
		if h.Redis != nil && env.EventID != "" {
			_ = redisx.Forget(ctx, h.Redis, paymentsDedup, env.EventID)
		}
		return err
	}
}
