package checkout

import (
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"strings"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRateLimited         = errors.New("too many order requests")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrIdempotencyConflict = errors.New("idempotency key belongs to another request")
)

// Item outcome status on a failed placement.
const (
	ItemReserved     = "reserved"     // reserved, then rolled back
	ItemAvailable    = "available"    // not attempted, enough stock
	ItemInsufficient = "insufficient" // some stock, not enough
	ItemSoldOut      = "sold_out"
)

type ItemOutcome struct {
	ProductID         string `json:"product_id"`
	RequestedQuantity int    `json:"requested_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	Status            string `json:"status"`
}

// PartialFailureError lists every line of a placement that could not be
// fully reserved. Nothing stays reserved when it is returned.
type PartialFailureError struct {
	Items []ItemOutcome
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder
	b.WriteString("insufficient stock:")
	for _, it := range e.Failed() {
		fmt.Fprintf(&b, " %s(requested %d, available %d)", it.ProductID, it.RequestedQuantity, it.AvailableQuantity)
	}
	return b.String()
}

func (e *PartialFailureError) Is(target error) bool { return target == inventory.ErrInsufficientStock }

// Failed returns only the lines that blocked the order.
func (e *PartialFailureError) Failed() []ItemOutcome {
	var out []ItemOutcome
	for _, it := range e.Items {
		if it.Status == ItemInsufficient || it.Status == ItemSoldOut {
			out = append(out, it)
		}
	}
	return out
}

func shortage(productID string, requested, available int) ItemOutcome {
	st := ItemInsufficient
	if available <= 0 {
		st = ItemSoldOut
		available = 0
	}
	return ItemOutcome{ProductID: productID, RequestedQuantity: requested, AvailableQuantity: available, Status: st}
}
