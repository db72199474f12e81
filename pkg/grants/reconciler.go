package grants

import (
	"context"
	"errors"
	"time"

	"github.com/AGoodId/guardian/pkg/catalog"
	"github.com/AGoodId/guardian/pkg/observability"
)

// Reconciler brings a principal's stored grants on an object in line with a
// desired grant set. The desired set is full state, not a patch: catalog
// permissions absent from it are removed, and every desired permission is
// assigned. Grants with codenames outside the current catalog are never
// touched.
type Reconciler struct {
	registry    *catalog.Registry
	store       Store
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
}

// NewReconciler creates a reconciler over the given catalog and store.
func NewReconciler(registry *catalog.Registry, store Store) *Reconciler {
	return &Reconciler{
		registry: registry,
		store:    store,
	}
}

// WithMetrics attaches reconciliation counters. Either argument may be nil.
func (r *Reconciler) WithMetrics(m *observability.Metrics, om *observability.OTelMetrics) *Reconciler {
	r.metrics = m
	r.otelMetrics = om
	return r
}

// Reconcile replaces the principal's catalog-scoped grants on the object
// with the desired set. After success the stored grants, intersected with
// the catalog, equal the desired set intersected with the catalog.
//
// Removal and assignment are both idempotent, so the whole operation is:
// reconciling twice with the same desired set is equivalent to once, and
// the outcome does not depend on the previous grant state.
func (r *Reconciler) Reconcile(ctx context.Context, principal Principal, object ObjectRef, desired []string) error {
	start := time.Now()

	catalogCodes, err := r.registry.Codenames(object.Type)
	if err != nil {
		r.recordReconcile(ctx, object.Type, 0, 0, time.Since(start), err)
		return err
	}

	desiredSet := make(map[string]bool, len(desired))
	assigns := make([]string, 0, len(desired))
	for _, code := range desired {
		if desiredSet[code] {
			continue
		}
		desiredSet[code] = true
		assigns = append(assigns, code)
	}

	// Removal candidates come from the catalog, never from the stored
	// grants, so anything granted outside the catalog survives untouched.
	var removes []string
	for _, code := range catalogCodes {
		if !desiredSet[code] {
			removes = append(removes, code)
		}
	}

	err = r.apply(ctx, principal, object, removes, assigns)
	r.recordReconcile(ctx, object.Type, len(assigns), len(removes), time.Since(start), err)
	return err
}

func (r *Reconciler) apply(ctx context.Context, principal Principal, object ObjectRef, removes, assigns []string) error {
	if batch, ok := r.store.(BatchApplier); ok {
		return batch.ApplyBatch(ctx, principal, object, removes, assigns)
	}

	// Per-operation path: abort on the first failure. Operations already
	// applied stay applied.
	for _, code := range removes {
		if err := r.store.Remove(ctx, code, principal, object); err != nil {
			return storeError("remove", code, err)
		}
	}
	for _, code := range assigns {
		if err := r.store.Assign(ctx, code, principal, object); err != nil {
			return storeError("assign", code, err)
		}
	}

	return nil
}

// recordReconcile counts one reconciliation and, on success, the assign and
// removal operations it issued.
func (r *Reconciler) recordReconcile(ctx context.Context, objectType string, assigned, removed int, elapsed time.Duration, err error) {
	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.ReconcilesTotal.WithLabelValues(objectType, status).Inc()
		r.metrics.ReconcileDuration.WithLabelValues(objectType).Observe(elapsed.Seconds())
		if err == nil {
			r.metrics.GrantAssignsTotal.WithLabelValues(objectType).Add(float64(assigned))
			r.metrics.GrantRemovalsTotal.WithLabelValues(objectType).Add(float64(removed))
		}
	}
	if r.otelMetrics != nil {
		r.otelMetrics.RecordReconcile(ctx, objectType, elapsed, err)
	}
}

// CurrentGrants returns the principal's grants on the object restricted to
// the current catalog, in catalog order. This is the view the desired set
// is diffed against.
func (r *Reconciler) CurrentGrants(ctx context.Context, principal Principal, object ObjectRef) ([]string, error) {
	catalogCodes, err := r.registry.Codenames(object.Type)
	if err != nil {
		return nil, err
	}

	stored, err := r.store.CurrentGrants(ctx, principal, object)
	if err != nil {
		return nil, err
	}

	storedSet := make(map[string]bool, len(stored))
	for _, code := range stored {
		storedSet[code] = true
	}

	var current []string
	for _, code := range catalogCodes {
		if storedSet[code] {
			current = append(current, code)
		}
	}
	return current, nil
}

// storeError wraps a store failure, letting lookup failures pass through
// so callers can still distinguish them.
func storeError(op, codename string, err error) error {
	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return err
	}
	var opErr *StoreOperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &StoreOperationError{Op: op, Codename: codename, Err: err}
}
