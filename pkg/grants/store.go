package grants

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is the persistence contract the reconciliation engine depends on.
// Assign and Remove are idempotent: assigning an existing grant or removing
// an absent one succeeds without effect.
type Store interface {
	// CurrentGrants returns the codenames the principal holds on the object.
	CurrentGrants(ctx context.Context, principal Principal, object ObjectRef) ([]string, error)

	// Assign records a grant. No-op if the grant already exists.
	Assign(ctx context.Context, codename string, principal Principal, object ObjectRef) error

	// Remove deletes a grant. No-op if the grant does not exist.
	Remove(ctx context.Context, codename string, principal Principal, object ObjectRef) error
}

// BatchApplier is an optional store capability: applying one reconciliation's
// removals and assignments in a single transaction. Stores implementing it
// get all-or-nothing reconciliation instead of per-operation application.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, principal Principal, object ObjectRef, removes, assigns []string) error
}

// SQLStore persists principals, objects and grants in a SQL database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed grant store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB exposes the underlying database handle for health checks and metrics.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// CreatePrincipal registers a user or group in the principal directory.
func (s *SQLStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if !p.Kind.Valid() {
		return fmt.Errorf("invalid principal kind: %s", p.Kind)
	}

	query := `
		INSERT INTO principals (kind, principal_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, principal_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, p.Kind, p.ID, p.Name, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a registered principal.
func (s *SQLStore) GetPrincipal(ctx context.Context, kind PrincipalKind, id string) (*Principal, error) {
	query := `
		SELECT kind, principal_id, name
		FROM principals
		WHERE kind = $1 AND principal_id = $2
	`

	var p Principal
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, query, kind, id).Scan(&p.Kind, &p.ID, &name)
	if err == sql.ErrNoRows {
		return nil, &LookupError{Kind: "principal", Ref: Principal{Kind: kind, ID: id}.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	if name.Valid {
		p.Name = name.String
	}
	return &p, nil
}

// ListPrincipals lists all registered principals of a kind, ordered by
// identifier. These are the resolver's candidate sets.
func (s *SQLStore) ListPrincipals(ctx context.Context, kind PrincipalKind) ([]Principal, error) {
	query := `
		SELECT kind, principal_id, name
		FROM principals
		WHERE kind = $1
		ORDER BY principal_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal
		var name sql.NullString
		if err := rows.Scan(&p.Kind, &p.ID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		if name.Valid {
			p.Name = name.String
		}
		principals = append(principals, p)
	}

	return principals, rows.Err()
}

// DeletePrincipal removes a principal from the directory. Its grants become
// orphans and are reclaimed by CleanOrphanGrants.
func (s *SQLStore) DeletePrincipal(ctx context.Context, kind PrincipalKind, id string) error {
	query := `DELETE FROM principals WHERE kind = $1 AND principal_id = $2`
	_, err := s.db.ExecContext(ctx, query, kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	return nil
}

// CreateObject registers a domain object.
func (s *SQLStore) CreateObject(ctx context.Context, obj ObjectRef) error {
	query := `
		INSERT INTO objects (object_type, object_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (object_type, object_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, obj.Type, obj.ID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	return nil
}

// DeleteObject removes an object registration. Its grants become orphans
// and are reclaimed by CleanOrphanGrants.
func (s *SQLStore) DeleteObject(ctx context.Context, obj ObjectRef) error {
	query := `DELETE FROM objects WHERE object_type = $1 AND object_id = $2`
	_, err := s.db.ExecContext(ctx, query, obj.Type, obj.ID)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// checkRegistered verifies the principal and object exist in the store.
func (s *SQLStore) checkRegistered(ctx context.Context, principal Principal, object ObjectRef) error {
	var exists bool

	query := `SELECT EXISTS (SELECT 1 FROM principals WHERE kind = $1 AND principal_id = $2)`
	if err := s.db.QueryRowContext(ctx, query, principal.Kind, principal.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check principal: %w", err)
	}
	if !exists {
		return &LookupError{Kind: "principal", Ref: principal.String()}
	}

	query = `SELECT EXISTS (SELECT 1 FROM objects WHERE object_type = $1 AND object_id = $2)`
	if err := s.db.QueryRowContext(ctx, query, object.Type, object.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check object: %w", err)
	}
	if !exists {
		return &LookupError{Kind: "object", Ref: object.String()}
	}

	return nil
}

// CurrentGrants returns the codenames the principal holds on the object.
func (s *SQLStore) CurrentGrants(ctx context.Context, principal Principal, object ObjectRef) ([]string, error) {
	if err := s.checkRegistered(ctx, principal, object); err != nil {
		return nil, err
	}

	query := `
		SELECT codename
		FROM object_grants
		WHERE principal_kind = $1 AND principal_id = $2 AND object_type = $3 AND object_id = $4
		ORDER BY codename ASC
	`

	rows, err := s.db.QueryContext(ctx, query, principal.Kind, principal.ID, object.Type, object.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var codenames []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		codenames = append(codenames, code)
	}

	return codenames, rows.Err()
}

// Assign records a grant. Assigning an existing grant is a no-op.
func (s *SQLStore) Assign(ctx context.Context, codename string, principal Principal, object ObjectRef) error {
	if err := s.checkRegistered(ctx, principal, object); err != nil {
		return err
	}

	query := `
		INSERT INTO object_grants (principal_kind, principal_id, object_type, object_id, codename, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (principal_kind, principal_id, object_type, object_id, codename) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, principal.Kind, principal.ID, object.Type, object.ID, codename, time.Now())
	if err != nil {
		return fmt.Errorf("failed to assign grant: %w", err)
	}
	return nil
}

// Remove deletes a grant. Removing an absent grant is a no-op.
func (s *SQLStore) Remove(ctx context.Context, codename string, principal Principal, object ObjectRef) error {
	if err := s.checkRegistered(ctx, principal, object); err != nil {
		return err
	}

	query := `
		DELETE FROM object_grants
		WHERE principal_kind = $1 AND principal_id = $2 AND object_type = $3 AND object_id = $4 AND codename = $5
	`

	_, err := s.db.ExecContext(ctx, query, principal.Kind, principal.ID, object.Type, object.ID, codename)
	if err != nil {
		return fmt.Errorf("failed to remove grant: %w", err)
	}
	return nil
}

// ApplyBatch applies one reconciliation's removals and assignments in a
// single transaction, so a reconciliation either fully applies or leaves
// the store untouched.
func (s *SQLStore) ApplyBatch(ctx context.Context, principal Principal, object ObjectRef, removes, assigns []string) error {
	if err := s.checkRegistered(ctx, principal, object); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	removeQuery := `
		DELETE FROM object_grants
		WHERE principal_kind = $1 AND principal_id = $2 AND object_type = $3 AND object_id = $4 AND codename = $5
	`
	for _, code := range removes {
		if _, err := tx.ExecContext(ctx, removeQuery, principal.Kind, principal.ID, object.Type, object.ID, code); err != nil {
			tx.Rollback()
			return &StoreOperationError{Op: "remove", Codename: code, Err: err}
		}
	}

	assignQuery := `
		INSERT INTO object_grants (principal_kind, principal_id, object_type, object_id, codename, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (principal_kind, principal_id, object_type, object_id, codename) DO NOTHING
	`
	now := time.Now()
	for _, code := range assigns {
		if _, err := tx.ExecContext(ctx, assignQuery, principal.Kind, principal.ID, object.Type, object.ID, code, now); err != nil {
			tx.Rollback()
			return &StoreOperationError{Op: "assign", Codename: code, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant batch: %w", err)
	}
	return nil
}

// GrantsForObject returns every grant recorded against an object.
func (s *SQLStore) GrantsForObject(ctx context.Context, object ObjectRef) ([]Grant, error) {
	query := `
		SELECT principal_kind, principal_id, codename, granted_at
		FROM object_grants
		WHERE object_type = $1 AND object_id = $2
		ORDER BY principal_kind ASC, principal_id ASC, codename ASC
	`

	rows, err := s.db.QueryContext(ctx, query, object.Type, object.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query object grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g := Grant{Object: object}
		if err := rows.Scan(&g.Principal.Kind, &g.Principal.ID, &g.Codename, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}

	return grants, rows.Err()
}

// PrincipalsWithGrant returns the principals holding a codename on an object.
func (s *SQLStore) PrincipalsWithGrant(ctx context.Context, object ObjectRef, codename string) ([]Principal, error) {
	query := `
		SELECT g.principal_kind, g.principal_id, p.name
		FROM object_grants g
		JOIN principals p ON p.kind = g.principal_kind AND p.principal_id = g.principal_id
		WHERE g.object_type = $1 AND g.object_id = $2 AND g.codename = $3
		ORDER BY g.principal_kind ASC, g.principal_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, object.Type, object.ID, codename)
	if err != nil {
		return nil, fmt.Errorf("failed to query principals with grant: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal
		var name sql.NullString
		if err := rows.Scan(&p.Kind, &p.ID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		if name.Valid {
			p.Name = name.String
		}
		principals = append(principals, p)
	}

	return principals, rows.Err()
}

// CleanOrphanGrants deletes grants whose principal or object registration
// no longer exists and returns the number of grants removed.
func (s *SQLStore) CleanOrphanGrants(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM object_grants
		WHERE NOT EXISTS (
			SELECT 1 FROM principals p
			WHERE p.kind = object_grants.principal_kind AND p.principal_id = object_grants.principal_id
		)
		OR NOT EXISTS (
			SELECT 1 FROM objects o
			WHERE o.object_type = object_grants.object_type AND o.object_id = object_grants.object_id
		)
	`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to clean orphan grants: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned grants: %w", err)
	}
	return removed, nil
}
