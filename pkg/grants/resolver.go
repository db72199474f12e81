package grants

import "context"

// PrincipalDirectory supplies resolver candidate sets.
type PrincipalDirectory interface {
	ListPrincipals(ctx context.Context, kind PrincipalKind) ([]Principal, error)
}

// ResolvePrincipal finds the selected principal among the candidates. The
// match is exact on kind and identifier; a miss yields NotFoundError.
func ResolvePrincipal(candidates []Principal, selected Principal) (Principal, error) {
	for _, c := range candidates {
		if c.Kind == selected.Kind && c.ID == selected.ID {
			return c, nil
		}
	}
	return Principal{}, &NotFoundError{Principal: selected.Ref()}
}

// Resolver resolves principal selections against a directory.
type Resolver struct {
	directory PrincipalDirectory
}

// NewResolver creates a resolver backed by a principal directory.
func NewResolver(directory PrincipalDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve loads the candidate set for the selected kind and resolves the
// selection against it.
func (r *Resolver) Resolve(ctx context.Context, selected Principal) (Principal, error) {
	candidates, err := r.directory.ListPrincipals(ctx, selected.Kind)
	if err != nil {
		return Principal{}, err
	}
	return ResolvePrincipal(candidates, selected)
}
