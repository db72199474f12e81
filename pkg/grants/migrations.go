package grants

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all grant store migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create principals table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principals (
					kind VARCHAR(16) NOT NULL,
					principal_id VARCHAR(255) NOT NULL,
					name VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (kind, principal_id)
				);

				CREATE INDEX idx_principals_kind ON principals(kind);
			`,
		},
		{
			Version:     2,
			Description: "Create objects table",
			SQL: `
				CREATE TABLE IF NOT EXISTS objects (
					object_type VARCHAR(255) NOT NULL,
					object_id VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (object_type, object_id)
				);

				CREATE INDEX idx_objects_type ON objects(object_type);
			`,
		},
		{
			Version:     3,
			Description: "Create object_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS object_grants (
					principal_kind VARCHAR(16) NOT NULL,
					principal_id VARCHAR(255) NOT NULL,
					object_type VARCHAR(255) NOT NULL,
					object_id VARCHAR(255) NOT NULL,
					codename VARCHAR(255) NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (principal_kind, principal_id, object_type, object_id, codename)
				);

				CREATE INDEX idx_object_grants_object ON object_grants(object_type, object_id);
				CREATE INDEX idx_object_grants_principal ON object_grants(principal_kind, principal_id);
				CREATE INDEX idx_object_grants_codename ON object_grants(object_type, object_id, codename);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS grant_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM grant_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	// Run pending migrations
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO grant_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
