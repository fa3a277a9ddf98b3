package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicSaleCreated        = "sale.created"
	TopicPromotionActivated = "promotion.activated"
	TopicProductUpdated     = "product.updated"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicSaleCreated,
		TopicPromotionActivated,
		TopicProductUpdated,
	}
}
