package events

// Topic constants for domain events emitted by the admin service.
const (
	TopicBulkPriceApplied  = "pricing.bulk_applied"
	TopicUserStatusChanged = "user.status_changed"
	TopicUserUpdated       = "user.updated"
	TopicUserDeleted       = "user.deleted"
	TopicPackageCreated    = "package.created"
	TopicPackageUpdated    = "package.updated"
	TopicPackageDeleted    = "package.deleted"
	TopicRefundUpdated     = "refund.updated"
)

