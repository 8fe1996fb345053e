package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicPaymentUnmatched   = "payment.unmatched"
	TopicCheckoutOrphaned   = "checkout.intent.orphaned"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
// Event tanpa order memakai payment_reference.
func PartitionKey(id string) []byte { return []byte(id) }
