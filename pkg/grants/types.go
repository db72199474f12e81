package grants

import (
	"fmt"
	"time"
)

// PrincipalKind distinguishes the two kinds of grant holders.
type PrincipalKind string

const (
	KindUser  PrincipalKind = "user"
	KindGroup PrincipalKind = "group"
)

// Valid reports whether the kind is one of the known principal kinds.
func (k PrincipalKind) Valid() bool {
	return k == KindUser || k == KindGroup
}

// Principal identifies a user or a group. User and group identifier spaces
// are independent, so equality always includes the kind.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
	Name string        `json:"name,omitempty"`
}

// Ref returns the identifying part of the principal, dropping display data.
func (p Principal) Ref() Principal {
	return Principal{Kind: p.Kind, ID: p.ID}
}

// String returns a string representation of the principal
func (p Principal) String() string {
	return string(p.Kind) + ":" + p.ID
}

// ObjectRef identifies a single domain object by type and identifier.
type ObjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String returns a string representation of the object reference
func (o ObjectRef) String() string {
	return o.Type + ":" + o.ID
}

// Grant records that a principal holds a permission codename on an object.
// A grant either exists or it does not; there is no further state.
type Grant struct {
	Principal Principal `json:"principal"`
	Object    ObjectRef `json:"object"`
	Codename  string    `json:"codename"`
	GrantedAt time.Time `json:"granted_at"`
}

// String returns a string representation of the grant
func (g Grant) String() string {
	return fmt.Sprintf("%s %s on %s", g.Principal, g.Codename, g.Object)
}
