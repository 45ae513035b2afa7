package redisx

import "time"

const (
	// Ledger stok: stock:{product_id} -> sisa unit (integer)
	KeyStock = "stock:%s"

	// Counter pemakaian kupon: coupon:used:{code} -> used_count
	KeyCouponUsed = "coupon:used:%s"

	// Idempotency create order: idem:order:create:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Rate limit place order per user: ratelimit:order:{user_id}
	KeyRateLimitOrder = "ratelimit:order:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Cache product snapshot: product:{product_id} -> json
	KeyProduct = "product:%s"

	// Dedup event processing: dedup:{service}:{id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLProduct     = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
