package grants

import "fmt"

// LookupError is returned by the store when a principal or object referenced
// by an operation is not registered.
type LookupError struct {
	Kind string // "principal" or "object"
	Ref  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// NotFoundError is returned by the resolver when the selected principal is
// not among the candidates.
type NotFoundError struct {
	Principal Principal
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("principal not among candidates: %s", e.Principal)
}

// StoreOperationError wraps a store failure during reconciliation. The
// reconciler aborts remaining operations when one fails, so earlier
// operations in the same pass may already be applied.
type StoreOperationError struct {
	Op       string // "assign" or "remove"
	Codename string
	Err      error
}

func (e *StoreOperationError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Codename, e.Err)
}

func (e *StoreOperationError) Unwrap() error {
	return e.Err
}
