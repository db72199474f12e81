// Package catalog defines the permission catalog: the set of grantable
// permissions for each registered object type. The catalog is the sole
// authority on which codenames the grant engine manages; codenames outside
// the catalog are never assigned or removed.
package catalog

import (
	"fmt"
	"sync"
)

// Permission is a single grantable permission for an object type.
type Permission struct {
	Codename string `json:"codename"`
	Name     string `json:"name"`
}

// String returns the codename, the canonical identifier of a permission.
func (p Permission) String() string {
	return p.Codename
}

// UnknownTypeError is returned when a catalog lookup references an object
// type that was never registered.
type UnknownTypeError struct {
	ObjectType string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown object type: %s", e.ObjectType)
}

// Registry maps object types to their ordered permission catalogs.
// Registration order of permissions is preserved so that listings are
// stable across calls.
type Registry struct {
	mu    sync.RWMutex
	types map[string][]Permission
	order []string
}

// NewRegistry creates an empty permission registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string][]Permission),
	}
}

// Register registers an object type with its permission catalog. A type
// must carry at least one permission. Re-registering a type replaces its
// catalog.
func (r *Registry) Register(objectType string, perms []Permission) error {
	if objectType == "" {
		return fmt.Errorf("object type is required")
	}
	if len(perms) == 0 {
		return fmt.Errorf("object type %s requires at least one permission", objectType)
	}

	seen := make(map[string]bool, len(perms))
	for _, p := range perms {
		if p.Codename == "" {
			return fmt.Errorf("object type %s has a permission with an empty codename", objectType)
		}
		if seen[p.Codename] {
			return fmt.Errorf("object type %s has duplicate codename: %s", objectType, p.Codename)
		}
		seen[p.Codename] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[objectType]; !exists {
		r.order = append(r.order, objectType)
	}
	catalog := make([]Permission, len(perms))
	copy(catalog, perms)
	r.types[objectType] = catalog
	return nil
}

// Permissions returns the ordered permission catalog for an object type.
func (r *Registry) Permissions(objectType string) ([]Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perms, ok := r.types[objectType]
	if !ok {
		return nil, &UnknownTypeError{ObjectType: objectType}
	}

	out := make([]Permission, len(perms))
	copy(out, perms)
	return out, nil
}

// Codenames returns the catalog codenames for an object type, in catalog
// order.
func (r *Registry) Codenames(objectType string) ([]string, error) {
	perms, err := r.Permissions(objectType)
	if err != nil {
		return nil, err
	}

	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = p.Codename
	}
	return codes, nil
}

// Contains reports whether the codename is part of the catalog for the
// object type.
func (r *Registry) Contains(objectType, codename string) (bool, error) {
	perms, err := r.Permissions(objectType)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Codename == codename {
			return true, nil
		}
	}
	return false, nil
}

// Types returns all registered object types in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DefaultPermissions returns the conventional permission set for an object
// type: add, change, delete and view.
func DefaultPermissions(objectType string) []Permission {
	return []Permission{
		{Codename: "add_" + objectType, Name: "Can add " + objectType},
		{Codename: "change_" + objectType, Name: "Can change " + objectType},
		{Codename: "delete_" + objectType, Name: "Can delete " + objectType},
		{Codename: "view_" + objectType, Name: "Can view " + objectType},
	}
}
