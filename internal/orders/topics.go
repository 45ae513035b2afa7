package orders

const (
	TopicOrderPlaced       = "order.placed"
	TopicOrderPaid         = "order.paid"
	TopicOrderCancelled    = "order.cancelled"
	TopicOrderExpired      = "order.expired"
	TopicPaymentAuthorized = "order.payment.authorized"
	TopicReconcileFailed   = "inventory.reconcile.failed"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// TopicFor maps an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderPlaced:
		return TopicOrderPlaced
	case EventOrderPaid:
		return TopicOrderPaid
	case EventOrderCancelled:
		return TopicOrderCancelled
	case EventOrderExpired:
		return TopicOrderExpired
	case EventPaymentAuthorized:
		return TopicPaymentAuthorized
	case EventReconcileFailed:
		return TopicReconcileFailed
	}
	return ""
}
