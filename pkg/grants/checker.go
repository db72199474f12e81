package grants

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AGoodId/guardian/pkg/observability"
)

// Checker answers object-level permission checks against the grant store,
// with an in-process LRU cache of per-(principal, object) grant sets.
type Checker struct {
	store       Store
	cache       *lru.Cache[string, map[string]bool]
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
}

// NewChecker creates a checker with an LRU cache of the given size.
func NewChecker(store Store, cacheSize int) (*Checker, error) {
	cache, err := lru.New[string, map[string]bool](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant cache: %w", err)
	}
	return &Checker{
		store: store,
		cache: cache,
	}, nil
}

// WithMetrics attaches check and cache counters. Either argument may be nil.
func (c *Checker) WithMetrics(m *observability.Metrics, om *observability.OTelMetrics) *Checker {
	c.metrics = m
	c.otelMetrics = om
	return c
}

func cacheKey(principal Principal, object ObjectRef) string {
	return principal.String() + "|" + object.String()
}

// HasPermission reports whether the principal holds the codename on the
// object. An unregistered principal or object holds nothing.
func (c *Checker) HasPermission(ctx context.Context, principal Principal, object ObjectRef, codename string) (bool, error) {
	key := cacheKey(principal, object)

	if grants, ok := c.cache.Get(key); ok {
		c.recordCache(ctx, true)
		c.recordCheck(ctx, object.Type, grants[codename])
		return grants[codename], nil
	}
	c.recordCache(ctx, false)

	stored, err := c.store.CurrentGrants(ctx, principal, object)
	if err != nil {
		var lookupErr *LookupError
		if errors.As(err, &lookupErr) {
			c.recordCheck(ctx, object.Type, false)
			return false, nil
		}
		return false, err
	}

	grants := make(map[string]bool, len(stored))
	for _, code := range stored {
		grants[code] = true
	}
	c.cache.Add(key, grants)

	c.recordCheck(ctx, object.Type, grants[codename])
	return grants[codename], nil
}

func (c *Checker) recordCache(ctx context.Context, hit bool) {
	if c.metrics != nil {
		if hit {
			c.metrics.CheckCacheHitsTotal.Inc()
		} else {
			c.metrics.CheckCacheMissesTotal.Inc()
		}
	}
	if c.otelMetrics != nil {
		if hit {
			c.otelMetrics.RecordCacheHit(ctx, "checker")
		} else {
			c.otelMetrics.RecordCacheMiss(ctx, "checker")
		}
	}
}

func (c *Checker) recordCheck(ctx context.Context, objectType string, allowed bool) {
	if c.metrics != nil {
		result := "denied"
		if allowed {
			result = "allowed"
		}
		c.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
	}
	if c.otelMetrics != nil {
		c.otelMetrics.RecordCheck(ctx, objectType, allowed)
	}
}

// Invalidate drops the cached grant set for a (principal, object) pair.
// Called after reconciliation so checks see the new state.
func (c *Checker) Invalidate(principal Principal, object ObjectRef) {
	c.cache.Remove(cacheKey(principal, object))
}

// Purge drops the entire cache.
func (c *Checker) Purge() {
	c.cache.Purge()
}
