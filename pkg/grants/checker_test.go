package grants

import (
	"context"
	"testing"
)

func TestChecker_HasPermission(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewSQLStore(db)

	alice := Principal{Kind: KindUser, ID: "alice"}
	post := ObjectRef{Type: "post", ID: "1"}
	seedPair(t, store, alice, post)

	if err := store.Assign(ctx, "view_post", alice, post); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	checker, err := NewChecker(store, 16)
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}

	allowed, err := checker.HasPermission(ctx, alice, post, "view_post")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected view_post to be allowed")
	}

	allowed, err = checker.HasPermission(ctx, alice, post, "delete_post")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected delete_post to be denied")
	}
}

func TestChecker_UnregisteredPrincipalDenied(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewSQLStore(db)

	checker, err := NewChecker(store, 16)
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}

	// Unregistered principal and object deny rather than error
	allowed, err := checker.HasPermission(ctx,
		Principal{Kind: KindUser, ID: "ghost"},
		ObjectRef{Type: "post", ID: "1"},
		"view_post",
	)
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected unregistered principal to be denied")
	}
}

func TestChecker_CacheAndInvalidate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewSQLStore(db)

	alice := Principal{Kind: KindUser, ID: "alice"}
	post := ObjectRef{Type: "post", ID: "1"}
	seedPair(t, store, alice, post)

	checker, err := NewChecker(store, 16)
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}

	// Prime the cache with the empty grant set
	allowed, err := checker.HasPermission(ctx, alice, post, "view_post")
	if err != nil || allowed {
		t.Fatalf("Expected denied before grant, allowed=%v err=%v", allowed, err)
	}

	if err := store.Assign(ctx, "view_post", alice, post); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	// Cached entry still answers with the old state
	allowed, err = checker.HasPermission(ctx, alice, post, "view_post")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected stale cached denial before invalidation")
	}

	checker.Invalidate(alice, post)

	allowed, err = checker.HasPermission(ctx, alice, post, "view_post")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected grant to be visible after invalidation")
	}
}
