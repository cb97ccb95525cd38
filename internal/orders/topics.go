package orders

const (
	TopicCheckoutOpened = "order.checkout.opened"
	TopicOrderPaid      = "order.paid"
	TopicOrderFailed    = "order.failed"
)

// Partition key = order reference, so every event for one order keeps order.
func PartitionKey(reference string) []byte { return []byte(reference) }
