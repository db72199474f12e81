package grants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CachedStore layers a Redis cache of current-grant sets over another
// store. Writes pass through and invalidate the affected pair's entry.
type CachedStore struct {
	store Store
	redis *redis.Client
	ttl   map[string]time.Duration
}

// NewCachedStore creates a Redis cache layer over the given store.
func NewCachedStore(store Store, client *redis.Client) *CachedStore {
	return &CachedStore{
		store: store,
		redis: client,
		ttl: map[string]time.Duration{
			"grants": 5 * time.Minute,
		},
	}
}

func (c *CachedStore) grantsKey(principal Principal, object ObjectRef) string {
	return fmt.Sprintf("grants:%s:%s", principal, object)
}

// CurrentGrants returns grants with caching. Lookup failures are never
// cached.
func (c *CachedStore) CurrentGrants(ctx context.Context, principal Principal, object ObjectRef) ([]string, error) {
	key := c.grantsKey(principal, object)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var codenames []string
		if err := json.Unmarshal([]byte(cached), &codenames); err == nil {
			return codenames, nil
		}
	}

	codenames, err := c.store.CurrentGrants(ctx, principal, object)
	if err != nil {
		return nil, err
	}

	if codenames == nil {
		codenames = []string{}
	}
	if data, err := json.Marshal(codenames); err == nil {
		c.redis.Set(ctx, key, data, c.ttl["grants"])
	}

	return codenames, nil
}

// Assign records a grant and invalidates the pair's cached grant set.
func (c *CachedStore) Assign(ctx context.Context, codename string, principal Principal, object ObjectRef) error {
	if err := c.store.Assign(ctx, codename, principal, object); err != nil {
		return err
	}
	c.redis.Del(ctx, c.grantsKey(principal, object))
	return nil
}

// Remove deletes a grant and invalidates the pair's cached grant set.
func (c *CachedStore) Remove(ctx context.Context, codename string, principal Principal, object ObjectRef) error {
	if err := c.store.Remove(ctx, codename, principal, object); err != nil {
		return err
	}
	c.redis.Del(ctx, c.grantsKey(principal, object))
	return nil
}

// ApplyBatch applies a reconciliation batch when the underlying store
// supports it, then invalidates the pair's cached grant set.
func (c *CachedStore) ApplyBatch(ctx context.Context, principal Principal, object ObjectRef, removes, assigns []string) error {
	batch, ok := c.store.(BatchApplier)
	if !ok {
		return fmt.Errorf("underlying store does not support batch application")
	}
	if err := batch.ApplyBatch(ctx, principal, object, removes, assigns); err != nil {
		return err
	}
	c.redis.Del(ctx, c.grantsKey(principal, object))
	return nil
}
