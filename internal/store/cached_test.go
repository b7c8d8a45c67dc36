// ABOUTME: Tests for the caching store wrapper
// ABOUTME: Verifies lookups are memoized and misses fall through

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts underlying lookup calls to prove memoization.
type countingStore struct {
	*MockStore
	mu                sync.Mutex
	modelCalls        int
	subscriptionCalls int
}

func (c *countingStore) GetModel(ctx context.Context, deploymentID string) (*Model, error) {
	c.mu.Lock()
	c.modelCalls++
	c.mu.Unlock()
	return c.MockStore.GetModel(ctx, deploymentID)
}

func (c *countingStore) IsSubscribed(ctx context.Context, userID, modelID string) (bool, error) {
	c.mu.Lock()
	c.subscriptionCalls++
	c.mu.Unlock()
	return c.MockStore.IsSubscribed(ctx, userID, modelID)
}

func TestCachedStore_MemoizesModelLookup(t *testing.T) {
	inner := &countingStore{MockStore: NewMockStore()}
	ctx := context.Background()

	require.NoError(t, inner.UpsertModel(ctx, &Model{
		DeploymentID:   "dep-1",
		DeploymentName: "gpt-4o",
		Endpoint:       "https://example.openai.azure.com",
		APIKey:         "key",
		Active:         true,
	}))

	cached := NewCachedStore(inner)
	defer cached.Close()

	for i := 0; i < 5; i++ {
		m, err := cached.GetModel(ctx, "dep-1")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", m.DeploymentName)
	}

	assert.Equal(t, 1, inner.modelCalls, "store should be hit once")
}

func TestCachedStore_ModelMissNotCached(t *testing.T) {
	inner := &countingStore{MockStore: NewMockStore()}
	cached := NewCachedStore(inner)
	defer cached.Close()
	ctx := context.Background()

	_, err := cached.GetModel(ctx, "dep-1")
	assert.ErrorIs(t, err, ErrModelNotFound)

	// Model becomes active; next lookup must see it
	require.NoError(t, inner.UpsertModel(ctx, &Model{
		DeploymentID:   "dep-1",
		DeploymentName: "gpt-4o",
		Endpoint:       "https://example.openai.azure.com",
		APIKey:         "key",
		Active:         true,
	}))

	m, err := cached.GetModel(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.DeploymentName)
}

func TestCachedStore_MemoizesSubscriptionLookup(t *testing.T) {
	inner := &countingStore{MockStore: NewMockStore()}
	ctx := context.Background()
	require.NoError(t, inner.GrantSubscription(ctx, "user-1", "dep-1"))

	cached := NewCachedStore(inner)
	defer cached.Close()

	for i := 0; i < 5; i++ {
		subscribed, err := cached.IsSubscribed(ctx, "user-1", "dep-1")
		require.NoError(t, err)
		assert.True(t, subscribed)
	}

	assert.Equal(t, 1, inner.subscriptionCalls, "store should be hit once")
}

func TestCachedStore_NegativeSubscriptionCached(t *testing.T) {
	inner := &countingStore{MockStore: NewMockStore()}
	cached := NewCachedStore(inner)
	defer cached.Close()
	ctx := context.Background()

	subscribed, err := cached.IsSubscribed(ctx, "user-1", "dep-1")
	require.NoError(t, err)
	assert.False(t, subscribed)

	// A grant inside the TTL window is not observed; accepted staleness
	require.NoError(t, inner.GrantSubscription(ctx, "user-1", "dep-1"))
	subscribed, err = cached.IsSubscribed(ctx, "user-1", "dep-1")
	require.NoError(t, err)
	assert.False(t, subscribed)
	assert.Equal(t, 1, inner.subscriptionCalls)
}
