package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger persists audit events in a SQL table.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger.
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// EnsureSchema creates the audit table if it does not exist.
func (l *DBLogger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			actor_kind VARCHAR(16),
			actor_id VARCHAR(255),
			principal_ref VARCHAR(512),
			object_ref VARCHAR(512),
			codenames TEXT,
			request_id VARCHAR(64),
			ip_address VARCHAR(64),
			method VARCHAR(16),
			path TEXT,
			message TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Log records an audit event.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	codenamesJSON, err := json.Marshal(event.Codenames)
	if err != nil {
		return fmt.Errorf("failed to marshal codenames: %w", err)
	}

	query := `
		INSERT INTO audit_events (timestamp, event_type, status, actor_kind, actor_id, principal_ref, object_ref, codenames, request_id, ip_address, method, path, message, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = l.db.ExecContext(ctx, query,
		event.Timestamp,
		event.EventType,
		event.Status,
		event.ActorKind,
		event.ActorID,
		event.PrincipalRef,
		event.ObjectRef,
		string(codenamesJSON),
		event.RequestID,
		event.IPAddress,
		event.Method,
		event.Path,
		event.Message,
		event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Recent returns the most recent audit events, newest first.
func (l *DBLogger) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, event_type, status, actor_kind, actor_id, principal_ref, object_ref, codenames, request_id, ip_address, method, path, message, error_message
		FROM audit_events
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actorKind, actorID, principalRef, objectRef, codenames sql.NullString
		var requestID, ipAddress, method, path, message, errorMessage sql.NullString

		err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&e.EventType,
			&e.Status,
			&actorKind,
			&actorID,
			&principalRef,
			&objectRef,
			&codenames,
			&requestID,
			&ipAddress,
			&method,
			&path,
			&message,
			&errorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		e.ActorKind = actorKind.String
		e.ActorID = actorID.String
		e.PrincipalRef = principalRef.String
		e.ObjectRef = objectRef.String
		e.RequestID = requestID.String
		e.IPAddress = ipAddress.String
		e.Method = method.String
		e.Path = path.String
		e.Message = message.String
		e.ErrorMessage = errorMessage.String

		if codenames.Valid && codenames.String != "" {
			if err := json.Unmarshal([]byte(codenames.String), &e.Codenames); err != nil {
				return nil, fmt.Errorf("failed to unmarshal codenames: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close is a no-op; the database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}
