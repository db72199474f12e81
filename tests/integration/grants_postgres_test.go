package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/AGoodId/guardian/pkg/audit"
	"github.com/AGoodId/guardian/pkg/catalog"
	"github.com/AGoodId/guardian/pkg/grants"
)

// startPostgres spins up a disposable postgres container and returns an open
// connection with migrations applied.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("guardian_test"),
		postgres.WithUsername("guardian"),
		postgres.WithPassword("guardian"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Skipping postgres integration test - docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open connection: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := grants.RunMigrations(ctx, db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func TestPostgres_ReconcileLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := startPostgres(t)
	ctx := context.Background()

	registry := catalog.NewRegistry()
	if err := registry.Register("post", catalog.DefaultPermissions("post")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	store := grants.NewSQLStore(db)
	reconciler := grants.NewReconciler(registry, store)

	alice := grants.Principal{Kind: grants.KindUser, ID: "alice", Name: "Alice"}
	post := grants.ObjectRef{Type: "post", ID: "42"}

	if err := store.CreatePrincipal(ctx, &alice); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}
	if err := store.CreateObject(ctx, post); err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}

	// Initial grant set
	if err := reconciler.Reconcile(ctx, alice, post, []string{"view_post", "change_post"}); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got, err := reconciler.CurrentGrants(ctx, alice, post)
	if err != nil {
		t.Fatalf("CurrentGrants failed: %v", err)
	}
	if len(got) != 2 || got[0] != "change_post" || got[1] != "view_post" {
		t.Fatalf("Expected [change_post view_post], got %v", got)
	}

	// Full replacement through the transactional batch path
	if err := reconciler.Reconcile(ctx, alice, post, []string{"delete_post"}); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got, err = reconciler.CurrentGrants(ctx, alice, post)
	if err != nil {
		t.Fatalf("CurrentGrants failed: %v", err)
	}
	if len(got) != 1 || got[0] != "delete_post" {
		t.Fatalf("Expected [delete_post], got %v", got)
	}

	// Empty desired set clears everything
	if err := reconciler.Reconcile(ctx, alice, post, nil); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	got, err = reconciler.CurrentGrants(ctx, alice, post)
	if err != nil {
		t.Fatalf("CurrentGrants failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no grants, got %v", got)
	}
}

func TestPostgres_OrphanCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := startPostgres(t)
	ctx := context.Background()

	store := grants.NewSQLStore(db)

	alice := grants.Principal{Kind: grants.KindUser, ID: "alice"}
	post := grants.ObjectRef{Type: "post", ID: "1"}

	if err := store.CreatePrincipal(ctx, &alice); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}
	if err := store.CreateObject(ctx, post); err != nil {
		t.Fatalf("CreateObject failed: %v", err)
	}
	if err := store.Assign(ctx, "view_post", alice, post); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	// Deleting the principal leaves the grant orphaned
	if err := store.DeletePrincipal(ctx, grants.KindUser, "alice"); err != nil {
		t.Fatalf("DeletePrincipal failed: %v", err)
	}

	removed, err := store.CleanOrphanGrants(ctx)
	if err != nil {
		t.Fatalf("CleanOrphanGrants failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 orphan removed, got %d", removed)
	}
}

func TestPostgres_AuditTrail(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := startPostgres(t)
	ctx := context.Background()

	logger := audit.NewDBLogger(db)
	if err := logger.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	event := &audit.Event{
		EventType:    audit.EventTypeGrantReconcile,
		Status:       audit.EventStatusSuccess,
		ActorKind:    "user",
		ActorID:      "admin",
		PrincipalRef: "user:alice",
		ObjectRef:    "post:42",
		Codenames:    []string{"view_post"},
	}
	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 1 || events[0].PrincipalRef != "user:alice" {
		t.Fatalf("Unexpected audit events: %+v", events)
	}
}
