package cache

const prefix = "esim-admin:"

// KeyRecords is the snapshot key of a record source.
func KeyRecords(source string) string {
	return prefix + "records:" + source
}

// KeyBulkPriceLock guards concurrent bulk price applies.
func KeyBulkPriceLock() string {
	return prefix + "lock:bulk-price"
}

// KeyIdempotency prefixes idempotency keys.
func KeyIdempotency() string {
	return prefix + "idem:"
}
