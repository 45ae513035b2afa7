package orders

import (
	"encoding/json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderPlaced       = "OrderPlaced"
	EventOrderPaid         = "OrderPaid"
	EventOrderCancelled    = "OrderCancelled"
	EventOrderExpired      = "OrderExpired"
	EventPaymentAuthorized = "PaymentAuthorized"
	EventReconcileFailed   = "StockReconciliationFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a v1 event.
func NewEnvelope(eventType, producer, correlationID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// ---- Payload tipe per event ----

type OrderPlacedPayload struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Items         []OrderItem     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount_amount"`
	Total         decimal.Decimal `json:"total_amount"`
	CouponCode    string          `json:"coupon_code,omitempty"`
	LockExpiresAt time.Time       `json:"lock_expires_at"`
}

type OrderStatusPayload struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	Items      []ItemQty `json:"released,omitempty"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type PaymentAuthorizedPayload struct {
	OrderID    string          `json:"order_id"`
	PaymentRef string          `json:"payment_ref"`
	Amount     decimal.Decimal `json:"amount"`
}

type ReconcileFailedPayload struct {
	ProductID string `json:"product_id"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
}
