// Package cache provides a generic TTL cache with insertion-order eviction,
// used to memoize conversation-store lookups.
package cache
