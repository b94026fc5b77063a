// Package storage defines the TTL-keyed key/value store both protocol
// halves use to persist short-lived state. The server keeps its session
// bridge in one; brokers keep their local tokens in one. Implementations
// bridge into whatever cache or session primitive the host provides; the
// memory subpackage is the reference backend.
package storage

import "time"

// Forever disables expiry when passed as a TTL.
const Forever time.Duration = 0

// Store is a TTL-bound key/value store. Concurrent writers touching the
// same key resolve last-write-wins at the store's granularity; the protocol
// does not need finer locking because attach and login are human-paced.
type Store interface {
	// Set writes value under key. A ttl <= 0 stores the value without
	// expiry.
	Set(key, value string, ttl time.Duration)
	// Get returns the value for key, or false if the key is absent or its
	// TTL has lapsed.
	Get(key string) (string, bool)
	// Has reports whether a live value exists for key.
	Has(key string) bool
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)
}
