// ABOUTME: Caching wrapper for the per-turn model and subscription lookups
// ABOUTME: Both are read-mostly and tolerate a 6-hour staleness window

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/evachat/eva-gateway/internal/cache"
)

// LookupTTL bounds the staleness of model descriptors and subscription
// checks. Entitlement changes can take up to this long to reach a
// running gateway.
const LookupTTL = 6 * time.Hour

const lookupCacheSize = 4096

// CachedStore wraps a Store, memoizing GetModel and IsSubscribed.
// All other operations pass through. A stampede of concurrent recomputes
// on expiry is acceptable and not deduplicated.
type CachedStore struct {
	Store

	models        *cache.Cache[*Model]
	subscriptions *cache.Cache[bool]
}

// NewCachedStore wraps the given store with TTL lookup caches.
func NewCachedStore(s Store) *CachedStore {
	return &CachedStore{
		Store:         s,
		models:        cache.New[*Model](LookupTTL, lookupCacheSize),
		subscriptions: cache.New[bool](LookupTTL, lookupCacheSize),
	}
}

// GetModel returns the cached model descriptor, falling through to the
// underlying store on miss. Negative results are not cached so a model
// activated by the admin tooling becomes usable without a restart.
func (c *CachedStore) GetModel(ctx context.Context, deploymentID string) (*Model, error) {
	if m, ok := c.models.Get(deploymentID); ok {
		return m, nil
	}

	m, err := c.Store.GetModel(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	c.models.Set(deploymentID, m)
	return m, nil
}

// IsSubscribed returns the cached entitlement check, falling through to the
// underlying store on miss. Both outcomes are cached; entitlements change
// rarely and a 6h delay on revocation is accepted.
func (c *CachedStore) IsSubscribed(ctx context.Context, userID, modelID string) (bool, error) {
	key := subscriptionKey(userID, modelID)
	if subscribed, ok := c.subscriptions.Get(key); ok {
		return subscribed, nil
	}

	subscribed, err := c.Store.IsSubscribed(ctx, userID, modelID)
	if err != nil {
		return false, err
	}
	c.subscriptions.Set(key, subscribed)
	return subscribed, nil
}

// Close releases the caches and the underlying store.
func (c *CachedStore) Close() error {
	c.models.Close()
	c.subscriptions.Close()
	return c.Store.Close()
}

func subscriptionKey(userID, modelID string) string {
	return fmt.Sprintf("%s/%s", userID, modelID)
}
