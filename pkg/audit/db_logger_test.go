package audit

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			actor_kind TEXT,
			actor_id TEXT,
			principal_ref TEXT,
			object_ref TEXT,
			codenames TEXT,
			request_id TEXT,
			ip_address TEXT,
			method TEXT,
			path TEXT,
			message TEXT,
			error_message TEXT
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func TestDBLogger_LogAndRecent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	logger := NewDBLogger(db)

	event := &Event{
		EventType:    EventTypeGrantReconcile,
		Status:       EventStatusSuccess,
		ActorKind:    "user",
		ActorID:      "admin",
		PrincipalRef: "user:alice",
		ObjectRef:    "post:42",
		Codenames:    []string{"view_post", "change_post"},
		RequestID:    "req-1",
		Method:       "PUT",
		Path:         "/api/v1/objects/post/42/principals/user/alice/grants",
	}

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	if event.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set on log")
	}

	events, err := logger.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	got := events[0]
	if got.EventType != EventTypeGrantReconcile {
		t.Errorf("Expected event type %s, got %s", EventTypeGrantReconcile, got.EventType)
	}
	if got.PrincipalRef != "user:alice" || got.ObjectRef != "post:42" {
		t.Errorf("Unexpected subject: %s on %s", got.PrincipalRef, got.ObjectRef)
	}
	if len(got.Codenames) != 2 {
		t.Errorf("Expected 2 codenames, got %v", got.Codenames)
	}
}

func TestDBLogger_RecentOrdering(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	logger := NewDBLogger(db)

	for _, et := range []EventType{EventTypeGrantAssign, EventTypeGrantRevoke, EventTypeAccessDenied} {
		if err := logger.Log(ctx, &Event{EventType: et, Status: EventStatusSuccess}); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	events, err := logger.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events with limit, got %d", len(events))
	}
	if events[0].EventType != EventTypeAccessDenied {
		t.Errorf("Expected newest event first, got %s", events[0].EventType)
	}
}

func TestFromContext_Fallback(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("Expected no-op logger fallback")
	}
	if err := logger.Log(context.Background(), &Event{}); err != nil {
		t.Errorf("No-op logger should never fail: %v", err)
	}

	db := setupTestDB(t)
	defer db.Close()

	dbLogger := NewDBLogger(db)
	ctx := WithLogger(context.Background(), dbLogger)
	if FromContext(ctx) != Logger(dbLogger) {
		t.Error("Expected logger from context")
	}
}
